package types

// Engine describes a compiled engine discovered on disk.
type Engine struct {
	// Stable identifier (directory name).
	// example: llama-7b-fp16
	ID string `json:"id" example:"llama-7b-fp16"`
	// Absolute path to the engine directory.
	// example: /srv/engines/llama-7b-fp16
	Path string `json:"path" example:"/srv/engines/llama-7b-fp16"`
	// Engine artifacts found in the directory.
	Files []string `json:"files,omitempty"`
}
