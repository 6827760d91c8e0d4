package reconcile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/iamdrhock/flixsync/internal/model"
	"github.com/iamdrhock/flixsync/internal/syncnotify"
)

//go:embed assets/reconciler.js.tmpl
var reconcilerTemplateSource string

var reconcilerTemplate = template.Must(template.New("reconciler").Parse(reconcilerTemplateSource))

// ScriptConfig はリコンサイラスクリプトの生成設定。
type ScriptConfig struct {
	Site           model.Site
	AllowedOrigins []string
	MaxEventAge    time.Duration // ゼロ値はDefaultMaxEventAge
}

// Script はこのオリジン向けのリコンサイラJSを生成する。
// 設定値は起動時に確定するため、生成結果はプロセス存続中キャッシュしてよい。
func Script(config ScriptConfig) ([]byte, error) {
	if config.MaxEventAge <= 0 {
		config.MaxEventAge = DefaultMaxEventAge
	}

	jsonValue := func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal script value: %w", err)
		}
		return string(b), nil
	}

	origins, err := jsonValue(config.AllowedOrigins)
	if err != nil {
		return nil, err
	}
	site, err := jsonValue(string(config.Site))
	if err != nil {
		return nil, err
	}
	peer, err := jsonValue(string(config.Site.Peer()))
	if err != nil {
		return nil, err
	}
	messageType, err := jsonValue(model.SyncMessageType)
	if err != nil {
		return nil, err
	}
	flagKey, err := jsonValue(model.SyncFlagKey)
	if err != nil {
		return nil, err
	}

	data := struct {
		AllowedOriginsJSON   string
		SiteJSON             string
		PeerJSON             string
		MessageTypeJSON      string
		FlagKeyJSON          string
		MaxEventAgeMS        int64
		IframeRemovalDelayMS int
	}{
		AllowedOriginsJSON:   origins,
		SiteJSON:             site,
		PeerJSON:             peer,
		MessageTypeJSON:      messageType,
		FlagKeyJSON:          flagKey,
		MaxEventAgeMS:        config.MaxEventAge.Milliseconds(),
		IframeRemovalDelayMS: syncnotify.IframeRemovalDelayMS,
	}

	var buf bytes.Buffer
	if err := reconcilerTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render reconciler script: %w", err)
	}
	return buf.Bytes(), nil
}
