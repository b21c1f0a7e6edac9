package manager

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

var testLimits = Limits{VocabSize: 100, MaxSeqLen: 12, MaxBeamWidth: 2, Defaults: DefaultSampling}

func TestBuildRequestClampsOutputToSequenceBudget(t *testing.T) {
	r, err := BuildRequest(raw(1, 10, 1, 2, 3, 4, 5), testLimits)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if r.MaxNewTokens != 7 {
		t.Fatalf("expected max new tokens 7, got %d", r.MaxNewTokens)
	}
	if r.State() != StateQueued {
		t.Fatalf("expected queued, got %s", r.State())
	}
	if r.BeamWidth != 1 {
		t.Fatalf("expected default beam width 1, got %d", r.BeamWidth)
	}
}

func TestBuildRequestEmptyInput(t *testing.T) {
	_, err := BuildRequest(raw(1, 4), testLimits)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != FieldInputIDs {
		t.Fatalf("expected field %s, got %s", FieldInputIDs, ve.Field)
	}

	_, err = BuildRequest(RawRequest{ID: 1, InputIDs: []int32{}, RequestOutputLen: ptr(4)}, testLimits)
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError for empty slice, got %v", err)
	}
}

func TestBuildRequestMissingOutputLen(t *testing.T) {
	_, err := BuildRequest(RawRequest{ID: 1, InputIDs: []int32{1}}, testLimits)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != FieldRequestOutputLen {
		t.Fatalf("expected request_output_len validation error, got %v", err)
	}
}

func TestBuildRequestRejectsInvalidFields(t *testing.T) {
	full := func() RawRequest { return raw(1, 4, 1, 2, 3) }
	cases := []struct {
		name  string
		field string
		mut   func(r *RawRequest)
	}{
		{"token outside vocab", FieldInputIDs, func(r *RawRequest) { r.InputIDs = []int32{1, 100} }},
		{"negative token", FieldInputIDs, func(r *RawRequest) { r.InputIDs = []int32{-3} }},
		{"no budget left", FieldRequestOutputLen, func(r *RawRequest) { r.InputIDs = make([]int32, 12) }},
		{"zero output len", FieldRequestOutputLen, func(r *RawRequest) { r.RequestOutputLen = ptr(0) }},
		{"beam zero", FieldBeamWidth, func(r *RawRequest) { r.BeamWidth = ptr(0) }},
		{"beam too wide", FieldBeamWidth, func(r *RawRequest) { r.BeamWidth = ptr(3) }},
		{"end id outside vocab", FieldEndID, func(r *RawRequest) { r.EndID = ptr(int32(100)) }},
		{"pad id negative", FieldPadID, func(r *RawRequest) { r.PadID = ptr(int32(-2)) }},
		{"negative temperature", FieldTemperature, func(r *RawRequest) { r.Temperature = ptr(float32(-0.1)) }},
		{"nan temperature", FieldTemperature, func(r *RawRequest) { r.Temperature = ptr(float32(math.NaN())) }},
		{"negative top k", FieldTopK, func(r *RawRequest) { r.TopK = ptr(-1) }},
		{"top p above one", FieldTopP, func(r *RawRequest) { r.TopP = ptr(float32(1.5)) }},
		{"infinite length penalty", FieldLengthPenalty, func(r *RawRequest) { r.LengthPenalty = ptr(float32(math.Inf(1))) }},
		{"zero repetition penalty", FieldRepetitionPenalty, func(r *RawRequest) { r.RepetitionPenalty = ptr(float32(0)) }},
		{"min length above budget", FieldMinLength, func(r *RawRequest) { r.MinLength = ptr(5) }},
		{"negative min length", FieldMinLength, func(r *RawRequest) { r.MinLength = ptr(-1) }},
		{"nan presence penalty", FieldPresencePenalty, func(r *RawRequest) { r.PresencePenalty = ptr(float32(math.NaN())) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := full()
			tc.mut(&r)
			_, err := BuildRequest(r, testLimits)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("expected field %s, got %s (%v)", tc.field, ve.Field, err)
			}
		})
	}
}

func TestBuildRequestAppliesDefaults(t *testing.T) {
	lim := testLimits
	lim.Defaults.MinLength = 5
	lim.Defaults.EndID = 2
	r, err := BuildRequest(raw(1, 3, 7), lim)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if r.Sampling.MinLength != 3 {
		t.Fatalf("expected default min length clamped to 3, got %d", r.Sampling.MinLength)
	}
	if r.Sampling.EndID != 2 || r.Sampling.Temperature != 1 || r.Sampling.RepetitionPenalty != 1 {
		t.Fatalf("unexpected defaults: %+v", r.Sampling)
	}

	in := raw(2, 3, 7)
	in.Temperature = ptr(float32(0.5))
	in.RandomSeed = ptr(uint64(9))
	r, err = BuildRequest(in, lim)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if r.Sampling.Temperature != 0.5 || r.Sampling.RandomSeed != 9 {
		t.Fatalf("explicit fields not applied: %+v", r.Sampling)
	}
}

func TestBuildRequestIsDeterministic(t *testing.T) {
	in := raw(4, 6, 1, 2, 3)
	in.TopK = ptr(40)
	in.TopP = ptr(float32(0.9))
	a, errA := BuildRequest(in, testLimits)
	b, errB := BuildRequest(in, testLimits)
	if errA != nil || errB != nil {
		t.Fatalf("BuildRequest: %v / %v", errA, errB)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("records differ:\n%+v\n%+v", a, b)
	}

	bad := raw(5, 6)
	_, e1 := BuildRequest(bad, testLimits)
	_, e2 := BuildRequest(bad, testLimits)
	if e1 == nil || e1.Error() != e2.Error() {
		t.Fatalf("expected identical errors, got %v / %v", e1, e2)
	}
}

func TestBuildRequestCopiesPrompt(t *testing.T) {
	in := raw(1, 2, 1, 2, 3)
	r, err := BuildRequest(in, testLimits)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	in.InputIDs[0] = 99
	if r.Prompt()[0] != 1 {
		t.Fatalf("prompt aliases caller slice")
	}
}

func TestBuildRequestNoVocabCheckWhenUnset(t *testing.T) {
	lim := Limits{MaxSeqLen: 64, Defaults: DefaultSampling}
	if _, err := BuildRequest(raw(1, 2, 250000), lim); err != nil {
		t.Fatalf("expected large token accepted without vocab, got %v", err)
	}
}
