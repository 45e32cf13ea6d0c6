package out

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/xbridge/internal/config"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := Success("routes", []map[string]any{{"a": 1, "b": 2}}, nil, nil, model.CacheStatus{Status: "miss"}, time.Now())
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"a"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["a"].(float64) != 1 {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["b"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestSelectReachesNestedFields(t *testing.T) {
	data := []model.ScoredRoute{{Route: model.RouteQuote{Provider: "stargate"}, TotalScore: 0.9}}
	env := Success("routes", data, nil, nil, model.CacheStatus{}, time.Now())
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "json", SelectFields: []string{"route.provider", "total_score"}, ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"route.provider": "stargate"`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := Success("providers list", []map[string]any{{"name": "x", "score": 42}}, []string{"one provider skipped"}, nil, model.CacheStatus{}, time.Now())
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "name=x") || !strings.Contains(buf.String(), "warning: one provider skipped") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestFailureCarriesTypeRetryableAndDetails(t *testing.T) {
	inner := clierr.New(clierr.CodeInsufficientGas, "not enough native gas").WithDetail("shortfall_wei", "900")
	err := clierr.Wrap(clierr.CodeInsufficientGas, "execute", inner).WithDetail("chain", "base")

	env := Failure("execute", err, nil, time.Now())
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %+v", env)
	}
	if env.Error.Type != "insufficient_gas" || env.Error.Code != int(clierr.CodeInsufficientGas) || env.Error.Retryable {
		t.Fatalf("unexpected error body %+v", env.Error)
	}
	if env.Error.Details["shortfall_wei"] != "900" || env.Error.Details["chain"] != "base" {
		t.Fatalf("details not merged: %v", env.Error.Details)
	}

	plain := Failure("routes", errors.New("boom"), nil, time.Now())
	if plain.Error.Type != "internal_error" || plain.Error.Code != int(clierr.CodeInternal) {
		t.Fatalf("unexpected untyped error body %+v", plain.Error)
	}
}
