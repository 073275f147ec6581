// Package config decodes the recognized-keys configuration document
// and republishes it on the bus as retained messages. The runtime
// config *file* loader (reading bytes off a filesystem or flash region)
// is an external collaborator; this package only ever sees bytes that
// have already been read for it.
package config

import (
	"errors"

	"github.com/andreyvit/tinyjson"

	"cellcycler-go/bus"
	"cellcycler-go/model"
	"cellcycler-go/x/mathx"
)

const topicPrefix = "config"

// Timing holds the cadence and protocol-duration keys.
type Timing struct {
	TsMs      int
	TRestS    int
	MaxCycles int
}

// Thresholds holds the edge-detection and cutoff keys.
type Thresholds struct {
	VFullMV             int32
	VEmptyMV            int32
	ITermChMA           int32
	VJumpMV             int32
	VDropMV             int32
	VJumpWindowMs       int
	VDropWindowMs       int
	IEdgeMA             int32
	IEdgeWindowMs       int
	ChDoneHoldS         int
	DchDoneHoldS        int
	TelemetryDecimation int
}

// Defaults returns the built-in default values for every key.
func Defaults() (Timing, Thresholds) {
	return Timing{
			TsMs:      50,
			TRestS:    300,
			MaxCycles: 2,
		}, Thresholds{
			VFullMV:             4150,
			VEmptyMV:            2800,
			ITermChMA:           50,
			VJumpMV:             2000,
			VDropMV:             2000,
			VJumpWindowMs:       300,
			VDropWindowMs:       500,
			IEdgeMA:             200,
			IEdgeWindowMs:       100,
			ChDoneHoldS:         30,
			DchDoneHoldS:        2,
			TelemetryDecimation: 20,
		}
}

// Document is the fully decoded configuration for all channels.
type Document struct {
	Timing
	Thresholds
	Channels map[int]model.Calibration
}

// ErrNotObject is returned when the top-level JSON value is not an object.
var ErrNotObject = errors.New("config: top-level JSON value is not an object")

// Load decodes raw JSON bytes into a Document, applying Defaults for
// any key that is absent. Channels holds an entry only for the channels
// listed under the "channels" key; within a listed channel, a
// calibration point that is absent defaults to the identity transform
// (offset 0, gain 1000 µV/LSB).
func Load(raw []byte) (Document, error) {
	t, th := Defaults()
	doc := Document{Timing: t, Thresholds: th, Channels: map[int]model.Calibration{}}
	if len(raw) == 0 {
		return doc, nil
	}

	r := tinyjson.Raw(raw)
	val := r.Value()
	if err := r.EnsureEOF(); err != nil {
		return doc, err
	}
	m, ok := val.(map[string]any)
	if !ok {
		return doc, ErrNotObject
	}

	applyInt(m, "T_s_ms", &doc.TsMs)
	applyInt(m, "T_rest_s", &doc.TRestS)
	applyInt(m, "max_cycles", &doc.MaxCycles)
	doc.MaxCycles = mathx.Max(1, doc.MaxCycles) // a run is at least one cycle
	applyInt32(m, "V_full_mV", &doc.VFullMV)
	applyInt32(m, "V_empty_mV", &doc.VEmptyMV)
	applyInt32(m, "I_term_ch_mA", &doc.ITermChMA)
	applyInt32(m, "v_jump_mV", &doc.VJumpMV)
	applyInt32(m, "v_drop_mV", &doc.VDropMV)
	applyInt(m, "v_jump_window_ms", &doc.VJumpWindowMs)
	applyInt(m, "v_drop_window_ms", &doc.VDropWindowMs)
	applyInt32(m, "i_edge_mA", &doc.IEdgeMA)
	applyInt(m, "i_edge_window_ms", &doc.IEdgeWindowMs)
	applyInt(m, "telemetry_decimation", &doc.TelemetryDecimation)

	if chans, ok := m["channels"].(map[string]any); ok {
		for key, v := range chans {
			id, ok := parseChannelKey(key)
			if !ok {
				continue
			}
			cm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			doc.Channels[id] = decodeCalibration(cm)
		}
	}

	return doc, nil
}

func decodeCalibration(m map[string]any) model.Calibration {
	return model.Calibration{
		VBatt: decodeCalPoint(m, "vbatt"),
		ICh:   decodeCalPoint(m, "ich"),
		IDch:  decodeCalPoint(m, "idch"),
	}
}

func decodeCalPoint(m map[string]any, key string) model.CalPoint {
	cp := model.CalPoint{GainUVPerLSB: 1000}
	pm, ok := m[key].(map[string]any)
	if !ok {
		return cp
	}
	applyInt32(pm, "adc_offset", &cp.OffsetMV)
	applyInt32(pm, "adc_gain", &cp.GainUVPerLSB)
	return cp
}

func applyInt(m map[string]any, key string, out *int) {
	if f, ok := m[key].(float64); ok {
		*out = int(f)
	}
}

func applyInt32(m map[string]any, key string, out *int32) {
	if f, ok := m[key].(float64); ok {
		*out = int32(f)
	}
}

func parseChannelKey(key string) (int, bool) {
	n := 0
	if key == "" {
		return 0, false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// Publish republishes every recognized scalar key as a retained
// message under "config/<key>", one retained bus.Message per key, so
// components that want live reconfiguration can subscribe.
func Publish(conn *bus.Connection, doc Document) {
	publish(conn, "T_s_ms", doc.TsMs)
	publish(conn, "T_rest_s", doc.TRestS)
	publish(conn, "max_cycles", doc.MaxCycles)
	publish(conn, "V_full_mV", doc.VFullMV)
	publish(conn, "V_empty_mV", doc.VEmptyMV)
	publish(conn, "I_term_ch_mA", doc.ITermChMA)
	publish(conn, "v_jump_mV", doc.VJumpMV)
	publish(conn, "v_drop_mV", doc.VDropMV)
	publish(conn, "v_jump_window_ms", doc.VJumpWindowMs)
	publish(conn, "v_drop_window_ms", doc.VDropWindowMs)
	publish(conn, "i_edge_mA", doc.IEdgeMA)
	publish(conn, "i_edge_window_ms", doc.IEdgeWindowMs)
	publish(conn, "telemetry_decimation", doc.TelemetryDecimation)
}

func publish(conn *bus.Connection, key string, val any) {
	msg := conn.NewMessage(bus.T(topicPrefix, key), val, true)
	conn.Publish(msg)
}
