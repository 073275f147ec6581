package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"cellcycler-go/arbiter"
	"cellcycler-go/model"
)

type fakeRawSource struct {
	vBatt, iCh, iDch int32
	failPoint        Point
	failCount        int
}

func (f *fakeRawSource) ReadRaw(ctx context.Context, channel int, p Point) (int32, error) {
	if f.failCount > 0 && p == f.failPoint {
		f.failCount--
		return 0, errors.New("bus nak")
	}
	switch p {
	case PointVBatt:
		return f.vBatt, nil
	case PointICh:
		return f.iCh, nil
	case PointIDch:
		return f.iDch, nil
	default:
		return 0, errors.New("unknown point")
	}
}

func identityCal() model.Calibration {
	cp := model.CalPoint{GainUVPerLSB: 1000}
	return model.Calibration{VBatt: cp, ICh: cp, IDch: cp}
}

func TestSampler_EmitsConvertedSample(t *testing.T) {
	a := arbiter.New(nil, 0, nil)
	src := &fakeRawSource{vBatt: 3700, iCh: 500, iDch: 0}
	s := NewSampler(1, a, src, time.Millisecond, identityCal(), nil)

	var got model.Sample
	s.OnSample = func(sm model.Sample) { got = sm }

	s.sweep(context.Background(), 1000)

	if got.VBattMV != 3700 || got.IChMA != 500 || got.IDchMA != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestSampler_RetriesOnceThenSucceeds(t *testing.T) {
	a := arbiter.New(nil, 0, nil)
	src := &fakeRawSource{vBatt: 4000, iCh: 100, iDch: 0, failPoint: PointVBatt, failCount: 1}
	s := NewSampler(1, a, src, time.Millisecond, identityCal(), nil)

	var got model.Sample
	faulted := false
	s.OnSample = func(sm model.Sample) { got = sm }
	s.OnFault = func(model.FaultKind, string) { faulted = true }

	s.sweep(context.Background(), 1000)

	if faulted {
		t.Fatal("expected the single retry to succeed without a fault")
	}
	if got.VBattMV != 4000 {
		t.Fatalf("got %+v", got)
	}
}

func TestSampler_FaultsAfterSecondFailure(t *testing.T) {
	a := arbiter.New(nil, 0, nil)
	src := &fakeRawSource{vBatt: 4000, failPoint: PointVBatt, failCount: 2}
	s := NewSampler(1, a, src, time.Millisecond, identityCal(), nil)

	var kind model.FaultKind
	sampled := false
	s.OnSample = func(model.Sample) { sampled = true }
	s.OnFault = func(k model.FaultKind, detail string) { kind = k }

	s.sweep(context.Background(), 1000)

	if sampled {
		t.Fatal("expected no sample to be emitted after exhausting the retry")
	}
	if kind != model.FaultSampler {
		t.Fatalf("kind = %v, want FaultSampler", kind)
	}
}

func TestSampler_NegativeCurrentClampedToZero(t *testing.T) {
	a := arbiter.New(nil, 0, nil)
	src := &fakeRawSource{vBatt: 3700, iCh: -5, iDch: 0}
	s := NewSampler(1, a, src, time.Millisecond, identityCal(), nil)

	var got model.Sample
	s.OnSample = func(sm model.Sample) { got = sm }
	s.sweep(context.Background(), 1000)

	if got.IChMA != 0 {
		t.Fatalf("IChMA = %d, want 0 (clamped)", got.IChMA)
	}
}
