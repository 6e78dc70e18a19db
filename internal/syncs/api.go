package syncs

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"

	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/providers"
)

//go:embed index.html
var indexSource string

var indexPage = template.Must(template.New("index").Parse(indexSource))

// requestPattern matches API.request for a GET of path and binds the request
// handle to "r".
func requestPattern(path string) engine.WhenPattern {
	return engine.WhenPattern{
		Provider:  "API",
		Operation: "request",
		Input: map[string]engine.Term{
			"path":   engine.Lit(ir.IRString(path)),
			"method": engine.Lit(ir.IRString("GET")),
			"params": engine.Bind("p"),
		},
		Output: map[string]string{"request": "r"},
	}
}

func respond(f *engine.Frame, body ir.IRObject, contentType string) []engine.Effect {
	return []engine.Effect{{
		Provider:  "API",
		Operation: "respond",
		Input: ir.IRObject{
			"request":     f.Get("r"),
			"body":        body,
			"contentType": ir.IRString(contentType),
		},
	}}
}

// GetFrame answers /frame.jpg with the rendered image of the latest frame,
// or the raw frame as JPEG when it has not been rendered yet.
func GetFrame() engine.Rule {
	return engine.Rule{
		Name:  "GetFrame",
		When:  []engine.WhenPattern{requestPattern("/frame.jpg")},
		Guard: latestJPEG,
		Effect: func(f *engine.Frame) []engine.Effect {
			return respond(f, ir.IRObject{"image": f.Get("img")}, "image/jpeg")
		},
	}
}

func latestJPEG(ctx context.Context, q engine.Querier, f *engine.Frame) bool {
	latest, err := q.Query(ctx, "Camera", "_latest", nil)
	if err != nil {
		return false
	}
	frame, ok := latest.GetString("frame")
	if !ok {
		return false
	}

	if found, err := q.Query(ctx, "Renderer", "_latestByFrame", ir.IRObject{"frame": ir.IRString(frame)}); err == nil {
		if render, ok := found.GetString("render"); ok {
			got, err := q.Query(ctx, "Renderer", "_getImage", ir.IRObject{"render": ir.IRString(render)})
			if data, ok := got.GetBytes("image"); err == nil && ok && len(data) > 0 {
				f.Bind("img", ir.IRBytes(data))
				return true
			}
		}
	}

	raw, err := q.Query(ctx, "Camera", "_getFrame", ir.IRObject{"frame": ir.IRString(frame)})
	if err != nil {
		return false
	}
	img, err := providers.ImageFromRef(raw["data"])
	if err != nil {
		return false
	}
	data, err := providers.EncodeJPEG(img, providers.RawQuality)
	if err != nil {
		return false
	}
	f.Bind("img", ir.IRBytes(data))
	return true
}

type indexData struct {
	Count     int64
	Timestamp int64
}

// IndexPage answers / with the dashboard page.
func IndexPage() engine.Rule {
	return engine.Rule{
		Name: "IndexPage",
		When: []engine.WhenPattern{requestPattern("/")},
		Guard: func(ctx context.Context, q engine.Querier, f *engine.Frame) bool {
			got, err := q.Query(ctx, "Counter", "_get", nil)
			if err != nil {
				return false
			}
			n, _ := got.GetInt("count")
			f.Bind("n", ir.IRInt(n))
			return true
		},
		Effect: func(f *engine.Frame) []engine.Effect {
			n, _ := f.Get("n").(ir.IRInt)
			data := indexData{Count: int64(n)}
			if req, ok := f.Last("API", "request"); ok {
				data.Timestamp = req.At.UnixMilli()
			}

			var buf bytes.Buffer
			if err := indexPage.Execute(&buf, data); err != nil {
				return nil
			}
			return respond(f, ir.IRObject{"html": ir.IRString(buf.String())}, "text/html; charset=utf-8")
		},
	}
}
