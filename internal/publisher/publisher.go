// Package publisher uploads a generated carousel to object storage under a
// deterministic per-request folder.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"sync"

	"carousel-engine/internal/errs"
	"carousel-engine/internal/helper"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"
	"carousel-engine/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/sync/errgroup"
)

const ManifestName = "manifest.json"

var slideTemplate = template.Must(template.New("slide").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} ({{.Position}}/{{.Total}})</title>
<style>
body { margin: 0; font-family: sans-serif; }
.slide { width: 1080px; height: 1080px; display: flex; align-items: center; justify-content: center; padding: 80px; box-sizing: border-box;{{if .Background}} background-image: url("{{.Background}}"); background-size: cover;{{end}} }
</style>
</head>
<body>
<section class="slide" data-position="{{.Position}}" data-theme="{{.Theme}}">
{{.Body}}
</section>
</body>
</html>
`))

type slideView struct {
	Title      string
	Theme      string
	Position   int
	Total      int
	Background string
	Body       template.HTML
}

// Manifest lists every published object of one carousel.
type Manifest struct {
	RequestID  string            `json:"request_id"`
	ProjectKey string            `json:"project_key"`
	Title      string            `json:"title"`
	Slides     []ManifestSlide   `json:"slides"`
	Images     []models.AssetRef `json:"images"`
}

type ManifestSlide struct {
	Position int    `json:"position"`
	Theme    string `json:"theme"`
	Text     string `json:"text"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url,omitempty"`
}

// Item is one object to upload.
type Item struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result lists the uploaded objects in slide, image, manifest order.
type Result struct {
	Folder      string
	Refs        []models.AssetRef
	ManifestURL string
}

// PublishError reports a partially published carousel.
type PublishError struct {
	Succeeded []models.AssetRef
	Failed    map[string]error
}

func (e *PublishError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for n := range e.Failed {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Sprintf("%v: %d of %d uploads failed (%s)", errs.ErrPublishFailed,
		len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(names, ", "))
}

func (e *PublishError) Unwrap() error { return errs.ErrPublishFailed }

type Publisher struct {
	store       storage.ObjectStore
	retry       retry.Config
	concurrency int
	md          goldmark.Markdown
}

func NewPublisher(store storage.ObjectStore, rc retry.Config, concurrency int) *Publisher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Publisher{
		store:       store,
		retry:       rc,
		concurrency: concurrency,
		md:          goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Folder is the storage prefix for a request. The same inputs always map to
// the same folder, so a re-run overwrites its previous output.
func Folder(projectKey, requestID string) string {
	return helper.Slugify(projectKey) + "/" + helper.Slugify(requestID) + "/"
}

func SlideName(position int) string {
	return fmt.Sprintf("slide-%02d.html", position)
}

// Refs returns the addresses a publish of set would produce, without uploading.
func (p *Publisher) Refs(projectKey, requestID string, set models.SlideSet, imageNames []string) []models.AssetRef {
	folder := Folder(projectKey, requestID)
	var names []string
	for _, s := range set.Slides {
		names = append(names, SlideName(s.Position))
	}
	sorted := append([]string(nil), imageNames...)
	sort.Strings(sorted)
	names = append(names, sorted...)
	names = append(names, ManifestName)

	refs := make([]models.AssetRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, models.AssetRef{Name: n, Key: folder + n, URL: p.store.URL(folder + n)})
	}
	return refs
}

// Publish uploads one HTML page per slide, every background image and a
// manifest. Uploads run in parallel; each is retried independently. If any
// upload still fails the error is a *PublishError wrapped as a partial asset
// failure, and the result holds what did succeed.
func (p *Publisher) Publish(ctx context.Context, projectKey, requestID, title string, set models.SlideSet, assets map[string]models.ImageAsset) (Result, error) {
	folder := Folder(projectKey, requestID)
	items, err := p.buildItems(folder, projectKey, requestID, title, set, assets)
	if err != nil {
		return Result{Folder: folder}, err
	}

	refs := make([]models.AssetRef, len(items))
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, item := range items {
		g.Go(func() error {
			key := folder + item.Name
			var url string
			err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
				var err error
				url, err = p.store.Put(ctx, key, item.Data, item.ContentType)
				return err
			})
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Upload failed")
				mu.Lock()
				failed[item.Name] = err
				mu.Unlock()
				return nil
			}
			refs[i] = models.AssetRef{Name: item.Name, Key: key, URL: url}
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Folder: folder}
	for _, ref := range refs {
		if ref.Key != "" {
			result.Refs = append(result.Refs, ref)
			if ref.Name == ManifestName {
				result.ManifestURL = ref.URL
			}
		}
	}

	if len(failed) > 0 {
		return result, errs.E(errs.KindPartialAsset, "publish "+folder,
			&PublishError{Succeeded: result.Refs, Failed: failed})
	}
	log.Info().Str("folder", folder).Int("objects", len(result.Refs)).Msg("Published carousel")
	return result, nil
}

func (p *Publisher) buildItems(folder, projectKey, requestID, title string, set models.SlideSet, assets map[string]models.ImageAsset) ([]Item, error) {
	manifest := Manifest{RequestID: requestID, ProjectKey: projectKey, Title: title}

	var items []Item
	for _, s := range set.Slides {
		name := SlideName(s.Position)
		bg := s.ImageRef
		page, err := p.renderSlide(slideView{
			Title:      title,
			Theme:      s.Theme,
			Position:   s.Position,
			Total:      set.Len(),
			Background: bg,
		}, s.Text)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		items = append(items, Item{Name: name, ContentType: "text/html; charset=utf-8", Data: page})

		ms := ManifestSlide{Position: s.Position, Theme: s.Theme, Text: s.Text, URL: p.store.URL(folder + name)}
		if bg != "" {
			ms.ImageURL = p.store.URL(folder + bg)
		}
		manifest.Slides = append(manifest.Slides, ms)
	}

	images := make([]models.ImageAsset, 0, len(assets))
	for _, a := range assets {
		images = append(images, a)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	for _, a := range images {
		items = append(items, Item{Name: a.Name, ContentType: a.ContentType, Data: a.Data})
		manifest.Images = append(manifest.Images, models.AssetRef{Name: a.Name, Key: folder + a.Name, URL: p.store.URL(folder + a.Name)})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	items = append(items, Item{Name: ManifestName, ContentType: "application/json", Data: data})
	return items, nil
}

func (p *Publisher) renderSlide(view slideView, text string) ([]byte, error) {
	var body bytes.Buffer
	if err := p.md.Convert([]byte(text), &body); err != nil {
		return nil, err
	}
	view.Body = template.HTML(body.String())

	var buf bytes.Buffer
	if err := slideTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
