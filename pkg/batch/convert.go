package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"txmconvert/pkg/metadata"
	"txmconvert/pkg/olefile"
	"txmconvert/pkg/preview"
	"txmconvert/pkg/tiffstack"
	"txmconvert/pkg/volume"
)

// projectionStream is the single pixel stream a .xrm projection file
// carries.
const projectionStream = "ImageData1/Image1"

// convertOne runs the full pipeline for one container: open, read
// geometry, assemble planes, rescale, write TIFF output and optionally
// zip it.
func convertOne(job *Job, opts Options, logs LogSink) error {
	logs.Log(fmt.Sprintf("Loading %s", job.Stem()))

	file, err := olefile.Open(job.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	projection := strings.EqualFold(filepath.Ext(job.Path), ".xrm")

	var geom *metadata.Geometry
	if projection {
		geom, err = metadata.ReadProjectionGeometry(file)
	} else {
		geom, err = metadata.ReadGeometry(file)
	}
	if err != nil {
		return err
	}

	outDir := filepath.Join(opts.OutputDir, job.ShortName, "tiff")
	var stack *volume.Stack
	if projection {
		raw, err := volume.AssembleSingle(file, projectionStream, geom)
		if err != nil {
			return err
		}
		stack, err = volume.RescalePercentile(raw, opts.LowPercentile, opts.HighPercentile)
		if err != nil {
			return err
		}
	} else {
		raw, err := volume.Assemble(file, geom)
		if err != nil {
			return err
		}
		switch {
		case opts.ConvertTo8Bit && raw.Type != volume.PixelUint8:
			logs.Log(fmt.Sprintf("Converting %s to 8-bit", job.Stem()))
			stack, err = volume.RescaleTo8Bit(raw)
			if err != nil {
				return err
			}
		case opts.ConvertTo8Bit:
			logs.Log(fmt.Sprintf("%s is already 8-bit. Skipping conversion.", job.Stem()))
			stack = raw
		default:
			logs.Log(fmt.Sprintf("No scaling specified for %s", job.Stem()))
			stack = volume.WrapUint16(raw)
		}
	}

	var written []string
	if opts.Volume3D && !projection {
		logs.Log(fmt.Sprintf("Exporting %d slices from %s as 3D TIFF", len(stack.Planes), job.Stem()))
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return err
		}
		path := filepath.Join(outDir, job.Stem()+".tif")
		if err := tiffstack.WriteVolume(path, stack, geom.PixelSize); err != nil {
			return err
		}
		written = []string{path}
	} else {
		logs.Log(fmt.Sprintf("Exporting %d slices from %s as TIFF stack", len(stack.Planes), job.Stem()))
		var onPreview func(*volume.Plane)
		if opts.WritePreview {
			onPreview = func(p *volume.Plane) {
				path := filepath.Join(opts.OutputDir, job.ShortName, job.Stem()+"_preview.jpg")
				if err := preview.NewRenderer(p, stack.Type).Save(path); err != nil {
					logs.Log(fmt.Sprintf("Preview for %s failed: %v", job.Stem(), err))
				}
			}
		}
		written, err = tiffstack.WriteStack(outDir, job.Stem(), stack, geom.PixelSize, onPreview)
		if err != nil {
			return err
		}
	}

	logs.Log(fmt.Sprintf("%s converted", job.Stem()))

	if opts.ZipOutput {
		zipPath := filepath.Join(opts.OutputDir, job.ShortName, job.Stem()+".zip")
		if err := zipFiles(zipPath, written); err != nil {
			return fmt.Errorf("zipping %s: %w", job.Stem(), err)
		}
		logs.Log(fmt.Sprintf("%s zipped", job.Stem()))
	}
	return nil
}

// zipFiles archives the written output files flat, by base name.
func zipFiles(zipPath string, paths []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for _, path := range paths {
		src, err := os.Open(path)
		if err != nil {
			w.Close()
			return err
		}
		dst, err := w.Create(filepath.Base(path))
		if err != nil {
			src.Close()
			w.Close()
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			w.Close()
			return err
		}
		src.Close()
	}
	if err := w.Close(); err != nil {
		return err
	}
	return out.Close()
}
