package dafny

// counterexample.go decodes the counterexample trace of a counterExample
// request.

import (
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	counterExampleStart = "COUNTEREXAMPLE_START "
	counterExampleEnd   = " COUNTEREXAMPLE_END"
)

type rawCounterModel struct {
	States []struct {
		Name      string   `json:"Name"`
		Line      looseInt `json:"Line"`
		Column    looseInt `json:"Column"`
		Variables []struct {
			Name          string `json:"Name"`
			Value         string `json:"Value"`
			CanonicalName string `json:"CanonicalName"`
			RealName      string `json:"RealName"`
		} `json:"Variables"`
	} `json:"States"`
}

// ParseCounterModel returns nil when the verifier reported no trace, or the
// trace could not be decoded.
func ParseCounterModel(log string) *CounterModel {
	if !succeeded(log) {
		return nil
	}
	payload, ok := extractBetween(log, counterExampleStart, counterExampleEnd)
	if !ok {
		return nil
	}
	var raw rawCounterModel
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		slog.Warn("malformed counterexample payload", slog.String("error", err.Error()))
		return nil
	}

	model := &CounterModel{}
	for _, st := range raw.States {
		if !st.Line.Valid || !st.Column.Valid {
			continue
		}
		state := CounterState{
			Position: Position{Line: clampOneBased(st.Line.N), Character: clampOneBased(st.Column.N)},
			Name:     st.Name,
		}
		for _, v := range st.Variables {
			state.Variables = append(state.Variables, CounterVariable{
				Name:          v.Name,
				Value:         v.Value,
				CanonicalName: v.CanonicalName,
				RealName:      v.RealName,
			})
		}
		model.States = append(model.States, state)
	}
	return model
}

// stripMarkers drops status marker lines from a raw response.
func stripMarkers(log string) string {
	var kept []string
	for _, line := range strings.Split(log, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, successMarker) || strings.HasPrefix(t, failureMarker) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
