package manager

import (
	"math"
	"slices"
)

// Logical field names of a raw request. They name the schema, not a wire format.
const (
	FieldInputIDs          = "input_ids"
	FieldRequestOutputLen  = "request_output_len"
	FieldBeamWidth         = "beam_width"
	FieldEndID             = "end_id"
	FieldPadID             = "pad_id"
	FieldTemperature       = "temperature"
	FieldTopK              = "runtime_top_k"
	FieldTopP              = "runtime_top_p"
	FieldLengthPenalty     = "len_penalty"
	FieldRepetitionPenalty = "repetition_penalty"
	FieldMinLength         = "min_length"
	FieldPresencePenalty   = "presence_penalty"
	FieldRandomSeed        = "random_seed"
	FieldOutputIDs         = "output_ids"
)

// RawRequest is an unvalidated request as supplied by upstream. A nil pointer
// means the field is absent.
type RawRequest struct {
	ID       uint64
	InputIDs []int32

	RequestOutputLen *int
	BeamWidth        *int

	EndID             *int32
	PadID             *int32
	Temperature       *float32
	TopK              *int
	TopP              *float32
	LengthPenalty     *float32
	RepetitionPenalty *float32
	MinLength         *int
	PresencePenalty   *float32
	RandomSeed        *uint64
}

// Limits bounds what the builder accepts. All fields are fixed for the
// lifetime of an orchestrator.
type Limits struct {
	// VocabSize bounds token ids to [0, VocabSize). Zero disables the check.
	VocabSize    int
	MaxSeqLen    int
	MaxBeamWidth int
	Defaults     SamplingConfig
}

// DefaultSampling is used when the engine supplies no sampling defaults.
var DefaultSampling = SamplingConfig{
	EndID:             -1,
	PadID:             0,
	Temperature:       1.0,
	TopK:              0,
	TopP:              0,
	LengthPenalty:     1.0,
	RepetitionPenalty: 1.0,
	MinLength:         1,
	PresencePenalty:   0,
	RandomSeed:        0,
}

// BuildRequest validates raw and resolves defaults into a queued record. It
// has no side effects; the same input always yields an identical record.
func BuildRequest(raw RawRequest, lim Limits) (*Request, error) {
	if raw.InputIDs == nil {
		return nil, invalid(FieldInputIDs, "missing required field")
	}
	if len(raw.InputIDs) == 0 {
		return nil, invalid(FieldInputIDs, "must not be empty")
	}
	for i, tok := range raw.InputIDs {
		if !lim.inVocab(tok) {
			return nil, invalid(FieldInputIDs, "token %d at position %d outside vocabulary [0,%d)", tok, i, lim.VocabSize)
		}
	}
	if raw.RequestOutputLen == nil {
		return nil, invalid(FieldRequestOutputLen, "missing required field")
	}
	maxNew := *raw.RequestOutputLen
	if lim.MaxSeqLen > 0 {
		maxNew = min(maxNew, lim.MaxSeqLen-len(raw.InputIDs))
	}
	if maxNew <= 0 {
		return nil, invalid(FieldRequestOutputLen, "no output budget left (requested %d, input %d, max sequence %d)",
			*raw.RequestOutputLen, len(raw.InputIDs), lim.MaxSeqLen)
	}

	beam := 1
	if raw.BeamWidth != nil {
		beam = *raw.BeamWidth
	}
	if beam < 1 {
		return nil, invalid(FieldBeamWidth, "must be >= 1, got %d", beam)
	}
	if lim.MaxBeamWidth > 0 && beam > lim.MaxBeamWidth {
		return nil, invalid(FieldBeamWidth, "exceeds max beam width %d, got %d", lim.MaxBeamWidth, beam)
	}

	sc, err := resolveSampling(raw, lim, maxNew)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:           raw.ID,
		MaxNewTokens: maxNew,
		BeamWidth:    beam,
		Sampling:     sc,
		prompt:       slices.Clone(raw.InputIDs),
		state:        StateQueued,
	}, nil
}

func resolveSampling(raw RawRequest, lim Limits, maxNew int) (SamplingConfig, error) {
	sc := lim.Defaults
	if raw.EndID != nil {
		sc.EndID = *raw.EndID
	}
	if raw.PadID != nil {
		sc.PadID = *raw.PadID
	}
	if raw.Temperature != nil {
		sc.Temperature = *raw.Temperature
	}
	if raw.TopK != nil {
		sc.TopK = *raw.TopK
	}
	if raw.TopP != nil {
		sc.TopP = *raw.TopP
	}
	if raw.LengthPenalty != nil {
		sc.LengthPenalty = *raw.LengthPenalty
	}
	if raw.RepetitionPenalty != nil {
		sc.RepetitionPenalty = *raw.RepetitionPenalty
	}
	if raw.PresencePenalty != nil {
		sc.PresencePenalty = *raw.PresencePenalty
	}
	if raw.RandomSeed != nil {
		sc.RandomSeed = *raw.RandomSeed
	}
	if raw.MinLength != nil {
		sc.MinLength = *raw.MinLength
		if sc.MinLength < 0 {
			return sc, invalid(FieldMinLength, "must be >= 0, got %d", sc.MinLength)
		}
		if sc.MinLength > maxNew {
			return sc, invalid(FieldMinLength, "exceeds output budget %d, got %d", maxNew, sc.MinLength)
		}
	} else {
		sc.MinLength = min(max(sc.MinLength, 0), maxNew)
	}

	if sc.EndID != -1 && !lim.inVocab(sc.EndID) {
		return sc, invalid(FieldEndID, "must be -1 or inside the vocabulary, got %d", sc.EndID)
	}
	if sc.PadID != -1 && !lim.inVocab(sc.PadID) {
		return sc, invalid(FieldPadID, "must be -1 or inside the vocabulary, got %d", sc.PadID)
	}
	if err := finite(FieldTemperature, sc.Temperature); err != nil {
		return sc, err
	}
	if sc.Temperature < 0 {
		return sc, invalid(FieldTemperature, "must be >= 0, got %g", sc.Temperature)
	}
	if sc.TopK < 0 {
		return sc, invalid(FieldTopK, "must be >= 0, got %d", sc.TopK)
	}
	if err := finite(FieldTopP, sc.TopP); err != nil {
		return sc, err
	}
	if sc.TopP < 0 || sc.TopP > 1 {
		return sc, invalid(FieldTopP, "must be within [0,1], got %g", sc.TopP)
	}
	if err := finite(FieldLengthPenalty, sc.LengthPenalty); err != nil {
		return sc, err
	}
	if err := finite(FieldRepetitionPenalty, sc.RepetitionPenalty); err != nil {
		return sc, err
	}
	if sc.RepetitionPenalty <= 0 {
		return sc, invalid(FieldRepetitionPenalty, "must be > 0, got %g", sc.RepetitionPenalty)
	}
	if err := finite(FieldPresencePenalty, sc.PresencePenalty); err != nil {
		return sc, err
	}
	return sc, nil
}

func (l Limits) inVocab(tok int32) bool {
	if tok < 0 {
		return false
	}
	return l.VocabSize <= 0 || int(tok) < l.VocabSize
}

func finite(field string, v float32) error {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return invalid(field, "must be a finite number")
	}
	return nil
}
