package config

import "fmt"

// Preset names. Each one reproduces a deployment variant of the service.
const (
	PresetBGE     = "bge"
	PresetPassage = "passage"
	PresetQuery   = "query"
)

// Preset holds the defaults a variant brings. Explicit settings win over it.
type Preset struct {
	Model            string
	FP16             bool
	Role             string
	QueryInstruction string
	PassagePrefix    string
	Normalize        string
	Response         string
}

var presets = map[string]Preset{
	// Caller-controlled normalization, full response envelope. The retrieval
	// instruction is only applied when the role is switched to query.
	PresetBGE: {
		Model:            "BAAI/bge-m3",
		FP16:             true,
		Role:             "passage",
		QueryInstruction: "为这个句子生成表示以用于检索相关文章：",
		Normalize:        NormalizeCaller,
		Response:         ResponseFull,
	},
	// Corpus side of an e5-style model: "passage: " prefix, always unit length.
	PresetPassage: {
		Model:            "jhgan/ko-sroberta-multitask",
		Role:             "passage",
		QueryInstruction: "query: ",
		PassagePrefix:    "passage: ",
		Normalize:        NormalizeAlways,
		Response:         ResponseMinimal,
	},
	// Query side of the same convention.
	PresetQuery: {
		Model:            "jhgan/ko-sroberta-multitask",
		Role:             "query",
		QueryInstruction: "query: ",
		PassagePrefix:    "passage: ",
		Normalize:        NormalizeAlways,
		Response:         ResponseMinimal,
	},
}

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// applyPreset fills every unset field from the selected preset.
func (c *Config) applyPreset() error {
	p, ok := presets[c.Preset]
	if !ok {
		return fmt.Errorf("unknown preset %q", c.Preset)
	}
	if c.Model.ID == "" {
		c.Model.ID = p.Model
	}
	if c.Model.FP16 == nil {
		fp16 := p.FP16
		c.Model.FP16 = &fp16
	}
	if c.Model.Role == "" {
		c.Model.Role = p.Role
	}
	// Prefixes are pointers so an explicit "" clears the preset's value.
	if c.Model.QueryInstruction == nil {
		v := p.QueryInstruction
		c.Model.QueryInstruction = &v
	}
	if c.Model.PassagePrefix == nil {
		v := p.PassagePrefix
		c.Model.PassagePrefix = &v
	}
	if c.Server.Normalize == "" {
		c.Server.Normalize = p.Normalize
	}
	if c.Server.Response == "" {
		c.Server.Response = p.Response
	}
	return nil
}
