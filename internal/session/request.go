package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects the recognition endpoint and its response shape.
type Mode string

const (
	// ModeBidi streams utterance-list updates.
	ModeBidi Mode = "bidi"
	// ModeBidiAsync streams flat full-text updates.
	ModeBidiAsync Mode = "bidi_async"
	// ModeNostream returns a single consolidated result.
	ModeNostream Mode = "nostream"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeBidi, ModeBidiAsync, ModeNostream:
		return true
	}
	return false
}

// URL maps the mode onto its endpoint under the configured base URL.
func (m Mode) URL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch m {
	case ModeBidi:
		return base + "/bigmodel"
	case ModeBidiAsync:
		return base + "/bigmodel_async"
	default:
		return base + "/bigmodel_nostream"
	}
}

// RequestOptions parameterizes the initial full client request.
type RequestOptions struct {
	Mode       Mode
	UID        string
	EnablePunc bool
	EnableDDC  bool
	Hotwords   string

	// Built-in trial credentials get a server-side segment cap.
	DefaultCredentials bool
}

type requestUser struct {
	UID string `json:"uid"`
}

type requestAudio struct {
	Format   string `json:"format"`
	Rate     int    `json:"rate"`
	Bits     int    `json:"bits"`
	Channel  int    `json:"channel"`
	Language string `json:"language,omitempty"`
}

type requestCorpus struct {
	Context string `json:"context"`
}

type requestVADConfig struct {
	MaxSingleSegmentTime int `json:"max_single_segment_time"`
}

type requestBody struct {
	ModelName  string            `json:"model_name"`
	EnableITN  bool              `json:"enable_itn"`
	EnablePunc bool              `json:"enable_punc"`
	EnableDDC  bool              `json:"enable_ddc"`
	EnableWord bool              `json:"enable_word"`
	ResType    string            `json:"res_type"`
	NBest      int               `json:"nbest"`
	UseVAD     bool              `json:"use_vad"`
	Corpus     *requestCorpus    `json:"corpus,omitempty"`
	VADConfig  *requestVADConfig `json:"vad_config,omitempty"`
}

type fullClientRequest struct {
	User    requestUser  `json:"user"`
	Audio   requestAudio `json:"audio"`
	Request requestBody  `json:"request"`
}

// BuildRequestJSON builds the full client request payload sent right
// after the transport connects.
func BuildRequestJSON(opts RequestOptions) ([]byte, error) {
	uid := opts.UID
	if uid == "" {
		uid = "demo_uid"
	}

	req := fullClientRequest{
		User: requestUser{UID: uid},
		Audio: requestAudio{
			Format:  "pcm",
			Rate:    16000,
			Bits:    16,
			Channel: 1,
		},
		Request: requestBody{
			ModelName:  "bigmodel",
			EnableITN:  true,
			EnablePunc: opts.EnablePunc,
			EnableDDC:  opts.EnableDDC,
			EnableWord: false,
			ResType:    "full",
			NBest:      1,
			UseVAD:     true,
		},
	}
	if opts.Mode == ModeNostream {
		req.Audio.Language = "zh-CN"
	}
	if ctx := buildHotwordsContext(opts.Hotwords); ctx != "" {
		req.Request.Corpus = &requestCorpus{Context: ctx}
	}
	if opts.DefaultCredentials {
		req.Request.VADConfig = &requestVADConfig{MaxSingleSegmentTime: 60000}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return payload, nil
}

type hotword struct {
	Word string `json:"word"`
}

type hotwordsPayload struct {
	Hotwords []hotword `json:"hotwords"`
}

// buildHotwordsContext turns a comma- or newline-separated hotword
// list into the corpus context JSON the service expects. Empty input
// yields an empty string so the corpus field is omitted.
func buildHotwordsContext(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var words []hotword
	for _, item := range strings.Split(strings.ReplaceAll(raw, ",", "\n"), "\n") {
		if word := strings.TrimSpace(item); word != "" {
			words = append(words, hotword{Word: word})
		}
	}
	if len(words) == 0 {
		return ""
	}
	payload, err := json.Marshal(hotwordsPayload{Hotwords: words})
	if err != nil {
		return ""
	}
	return string(payload)
}
