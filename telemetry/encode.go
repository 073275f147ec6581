package telemetry

import (
	"cellcycler-go/model"
	"cellcycler-go/x/conv"
	"cellcycler-go/x/strconvx"
)

// encodeLine renders one telemetry record as a flat line-delimited
// "kind key=value key=value ...\n". Integers go through x/conv's
// buffer-based Itoa, floats through x/strconvx and strings are copied
// in as-is, rather than encoding/json or
// fmt.Sprintf: a sample record is encoded on every decimated tick
// across four channels.
func encodeLine(rec Record) []byte {
	b := make([]byte, 0, 128)
	switch p := rec.Payload.(type) {
	case model.SampleRecord:
		b = appendKind(b, model.KindSample)
		b = appendInt(b, "channel", int64(p.Channel))
		b = appendInt(b, "t", p.TUs)
		b = appendInt(b, "v_mV", int64(p.VMV))
		b = appendInt(b, "i_ch_mA", int64(p.IChMA))
		b = appendInt(b, "i_dch_mA", int64(p.IDchMA))
	case model.BCTransitionRecord:
		b = appendKind(b, model.KindBCTransition)
		b = appendInt(b, "channel", int64(p.Channel))
		b = appendInt(b, "t", p.TUs)
		b = appendStr(b, "from", string(p.From))
		b = appendStr(b, "to", string(p.To))
		b = appendStr(b, "event", p.Event)
		if p.BatteryID != "" {
			b = appendStr(b, "battery_id", p.BatteryID)
		}
		b = appendFloat(b, "mAh_charge", p.ChargeMAh)
		b = appendFloat(b, "mAh_discharge", p.DischargeMAh)
	case model.SoCTransitionRecord:
		b = appendKind(b, model.KindSoCTransition)
		b = appendInt(b, "channel", int64(p.Channel))
		b = appendInt(b, "t", p.TUs)
		b = appendStr(b, "from", string(p.From))
		b = appendStr(b, "to", string(p.To))
		b = appendInt(b, "num_cycles", int64(p.NumCycles))
		b = appendInt(b, "max_cycles", int64(p.MaxCycles))
	case model.SoCResultRecord:
		b = appendKind(b, model.KindSoCResult)
		b = appendInt(b, "channel", int64(p.Channel))
		b = appendStr(b, "battery_id", p.BatteryID)
		b = appendInt(b, "started_at", p.StartedUs)
		b = appendInt(b, "finished_at", p.FinishedUs)
		b = appendStr(b, "outcome", string(p.Outcome))
		b = appendInt(b, "cycles_n", int64(len(p.Cycles)))
		for i, c := range p.Cycles {
			var ibuf [20]byte
			pfx := "cycle" + string(conv.Itoa(ibuf[:], int64(i))) + "_"
			b = appendFloat(b, pfx+"charge_mAh", c.ChargeMAh)
			b = appendFloat(b, pfx+"discharge_mAh", c.DischargeMAh)
			b = appendFloat(b, pfx+"charge_mWh", c.ChargeMWh)
			b = appendFloat(b, pfx+"discharge_mWh", c.DischargeMWh)
			b = appendFloat(b, pfx+"t_charge_s", c.TChargeS)
			b = appendFloat(b, pfx+"t_discharge_s", c.TDischargeS)
			b = appendInt(b, pfx+"rest_start_mV", int64(c.RestStartVmV))
			b = appendInt(b, pfx+"rest_end_mV", int64(c.RestEndVmV))
		}
	case model.FaultRecord:
		b = appendKind(b, model.KindFault)
		b = appendInt(b, "channel", int64(p.Channel))
		b = appendInt(b, "t", p.TUs)
		b = appendStr(b, "kind", string(p.Kind))
		b = appendStr(b, "detail", p.Detail)
	default:
		return nil
	}
	b = append(b, '\n')
	return b
}

func appendKind(b []byte, k model.RecordKind) []byte {
	return append(b, []byte(k)...)
}

func appendInt(b []byte, key string, v int64) []byte {
	b = append(b, ' ')
	b = append(b, key...)
	b = append(b, '=')
	var ibuf [20]byte
	return append(b, conv.Itoa(ibuf[:], v)...)
}

func appendFloat(b []byte, key string, v float64) []byte {
	b = append(b, ' ')
	b = append(b, key...)
	b = append(b, '=')
	return append(b, strconvx.FormatFloat(v, 'f', 4, 64)...)
}

// appendStr writes key="value", quoting naively: the value is wrapped in
// quotes without escaping, so a quote or newline inside it (possible in
// battery_id or a fault detail carrying error text) is written as-is.
func appendStr(b []byte, key, v string) []byte {
	b = append(b, ' ')
	b = append(b, key...)
	b = append(b, '=')
	b = append(b, '"')
	b = append(b, v...)
	b = append(b, '"')
	return b
}
