package jobs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sources/cloudinary"
	"sheet-etl/internal/sources/gemini"

	"golang.org/x/time/rate"
)

// maxBase64Cell is the longest data URL written to a text field.
const maxBase64Cell = 95000

func init() {
	register("image-gen", entry{
		section: "image_gen",
		common:  func(j *config.Jobs) config.Common { return j.ImageGen.Common },
		keys:    func(k config.Keys) error { return needKey(k.Gemini, "GEMINI_API_KEY") },
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.ImageGen
			return &imageGen{
				base:   base{name: "image-gen", common: cfg.Common},
				cfg:    cfg,
				gemini: gemini.New(d.HTTP, d.Config.Endpoints.Gemini, d.Config.Keys.Gemini),
				cloud:  cloudinary.New(d.HTTP, d.Config.Endpoints.Cloudinary, d.Config.Keys.CloudinaryCloud, d.Config.Keys.CloudinaryPreset),
				http:   d.HTTP,
				pacer:  rate.NewLimiter(rate.Every(cfg.Delay), 1),
				now:    time.Now,
			}
		},
	})
}

// imageGen renders a new image per row from a style image, an optional
// reference image and a prompt, uploads it and appends it to the row's
// images.
type imageGen struct {
	base
	cfg    config.ImageGenJob
	gemini *gemini.Client
	cloud  *cloudinary.Client
	http   *fetch.Client
	pacer  *rate.Limiter
	now    func() time.Time
}

func (j *imageGen) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

func (j *imageGen) variant() string {
	if gemini.IsPro(j.cfg.Model) {
		return "pro"
	}
	return "flash"
}

func (j *imageGen) Source(snap *reconcile.Snapshot) fetch.Source {
	if !j.cloud.Configured() {
		if _, ok := j.common.Fields["base64"]; !ok {
			logWarn(j.name, j.common.Table, "cloudinary is not configured and no base64 field is mapped, nothing can be stored")
		} else {
			logWarn(j.name, j.common.Table, "cloudinary is not configured, images are only stored as base64")
		}
	}
	return j.eachRow(snap, 0, j.generate)
}

func (j *imageGen) generate(ctx context.Context, row record.Destination) (record.Fields, error) {
	existing, _ := j.get(row, "image").AsAttachments()
	if j.cfg.OnlyMissing && len(existing) > 0 {
		return nil, nil
	}
	styles, _ := j.get(row, "style").AsAttachments()
	if len(styles) == 0 {
		j.log(row).Infof("no style image")
		return nil, nil
	}
	prompt := j.text(row, "prompt")
	if prompt == "" {
		j.log(row).Infof("no prompt")
		return nil, nil
	}

	style, err := j.input(ctx, styles[0])
	if err != nil {
		return nil, fmt.Errorf("style image: %w", err)
	}
	req := gemini.ImageRequest{
		Model:      j.cfg.Model,
		Prompt:     prompt,
		Style:      style,
		Ratio:      j.cfg.Ratio,
		Resolution: j.cfg.Resolution,
	}
	if refs, _ := j.get(row, "reference").AsAttachments(); len(refs) > 0 {
		ref, err := j.input(ctx, refs[0])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			j.log(row).Warnf("reference image left out: %v", err)
		} else {
			req.Reference = &ref
		}
	}

	if err := j.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	img, err := j.gemini.GenerateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	dataURL := record.DataURL(img.MIMEType, img.Data)
	j.log(row).Infof("generated %.2fMB image", float64(len(img.Data))/(1<<20))

	out := record.Fields{}
	if _, ok := j.common.Fields["base64"]; ok {
		if len(dataURL) > maxBase64Cell {
			j.log(row).Warnf("base64 image is %d characters, over the %d limit, not stored", len(dataURL), maxBase64Cell)
		} else {
			out["base64"] = record.String(dataURL)
		}
	}
	if j.cloud.Configured() {
		stamp := strconv.FormatInt(j.now().UnixMilli(), 10)
		res, err := j.cloud.Upload(ctx, dataURL, j.cfg.Folder,
			cloudinary.PublicID("gemini_"+row.ID+"_"+stamp), []string{"gemini", j.variant(), j.cfg.Ratio})
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		files := append(existing, record.Attachment{
			URL:      res.URL,
			Filename: fmt.Sprintf("gemini_%s_%s_%s.png", j.variant(), j.cfg.Ratio, stamp),
			Size:     res.Bytes,
		})
		out["image"] = record.Attachments(files...)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// input loads an attachment for the model. Files over the configured size
// are rejected, never truncated.
func (j *imageGen) input(ctx context.Context, a record.Attachment) (gemini.Image, error) {
	limit := int64(j.cfg.MaxInputMB * (1 << 20))
	if a.Size > 0 && a.Size > limit {
		return gemini.Image{}, fmt.Errorf("%s is %.1fMB, over the %.1fMB limit", a.Filename, float64(a.Size)/(1<<20), j.cfg.MaxInputMB)
	}
	data, err := readAttachment(ctx, j.http, a)
	if err != nil {
		return gemini.Image{}, err
	}
	if int64(len(data)) > limit {
		return gemini.Image{}, fmt.Errorf("%s is %.1fMB, over the %.1fMB limit", a.Filename, float64(len(data))/(1<<20), j.cfg.MaxInputMB)
	}
	return gemini.Image{MIMEType: http.DetectContentType(data), Data: data}, nil
}
