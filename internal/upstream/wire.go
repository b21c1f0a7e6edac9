package upstream

import (
	"slices"

	"batchd/internal/manager"
	"batchd/pkg/types"
)

// FromWire maps a wire request onto the logical request schema.
func FromWire(req types.GenerateRequest) manager.RawRequest {
	return manager.RawRequest{
		ID:                req.ID,
		InputIDs:          slices.Clone(req.InputIDs),
		RequestOutputLen:  req.RequestOutputLen,
		BeamWidth:         req.BeamWidth,
		EndID:             req.EndID,
		PadID:             req.PadID,
		Temperature:       req.Temperature,
		TopK:              req.TopK,
		TopP:              req.TopP,
		LengthPenalty:     req.LengthPenalty,
		RepetitionPenalty: req.RepetitionPenalty,
		MinLength:         req.MinLength,
		PresencePenalty:   req.PresencePenalty,
		RandomSeed:        req.RandomSeed,
	}
}

// ToWire renders a final response.
func ToWire(resp manager.Response) types.GenerateResponse {
	out := types.GenerateResponse{
		ID:        resp.ID,
		OutputIDs: resp.OutputTokens,
		State:     string(resp.State),
	}
	if out.OutputIDs == nil {
		out.OutputIDs = []int32{}
	}
	if resp.Err != nil {
		out.Error = resp.Err.Error()
	}
	return out
}
