package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ggonzalez94/xbridge/internal/config"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

// Success wraps data in a versioned envelope.
func Success(command string, data any, warnings []string, providers []model.ProviderStatus, cache model.CacheStatus, now time.Time) model.Envelope {
	return model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: now.UTC(),
			Command:   command,
			Providers: providers,
			Cache:     cache,
		},
	}
}

// Failure builds the error envelope for err. Untyped errors render as
// internal errors.
func Failure(command string, err error, providers []model.ProviderStatus, now time.Time) model.Envelope {
	return model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error:   ErrorBody(err),
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: now.UTC(),
			Command:   command,
			Providers: providers,
			Cache:     model.CacheStatus{Status: "bypass"},
		},
	}
}

func ErrorBody(err error) *model.ErrorBody {
	body := &model.ErrorBody{
		Code:    clierr.ExitCode(err),
		Type:    clierr.CodeInternal.String(),
		Message: err.Error(),
	}
	if cErr, ok := clierr.As(err); ok {
		body.Type = cErr.Code.String()
		body.Retryable = cErr.Code.Retryable()
		body.Message = cErr.Error()
		body.Details = collectDetails(err)
	}
	return body
}

// collectDetails merges details from every typed error in the chain; outer
// errors win on key collisions.
func collectDetails(err error) map[string]string {
	var out map[string]string
	for err != nil {
		cErr, ok := clierr.As(err)
		if !ok {
			break
		}
		for k, v := range cErr.Details {
			if out == nil {
				out = map[string]string{}
			}
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
		err = cErr.Cause
	}
	return out
}

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode != "plain" {
		env.Data = data
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	if env.Error != nil {
		line := fmt.Sprintf("error: %s (%s)", env.Error.Message, env.Error.Type)
		if len(env.Error.Details) > 0 {
			if detail, err := toLine(normalizeValue(env.Error.Details)); err == nil {
				line += " " + detail
			}
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
	if err := renderPlain(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintln(w, "warning: "+warning); err != nil {
			return err
		}
	}
	return nil
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

// project keeps only the selected top-level fields. Dotted paths such as
// route.provider reach into nested objects.
func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookupPath(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val := t[k]
			switch val.(type) {
			case map[string]any, []any:
				buf, err := json.Marshal(val)
				if err != nil {
					return "", err
				}
				parts = append(parts, fmt.Sprintf("%s=%s", k, buf))
			default:
				parts = append(parts, fmt.Sprintf("%s=%v", k, val))
			}
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
