package tools

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ClassifyImage returns a simple colour-based classification label for the
// image: dominant colour family, brightness mood and orientation.
func ClassifyImage(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return "", fmt.Errorf("image has no pixels")
	}

	// Sample on a grid; full scans on large photos buy nothing here.
	stepX := width / 64
	if stepX < 1 {
		stepX = 1
	}
	stepY := height / 64
	if stepY < 1 {
		stepY = 1
	}

	var sumR, sumG, sumB float64
	var samples float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			sumR += float64(r >> 8)
			sumG += float64(g >> 8)
			sumB += float64(b >> 8)
			samples++
		}
	}

	avgR := sumR / samples
	avgG := sumG / samples
	avgB := sumB / samples

	dominant := "赤系"
	if avgG >= avgR && avgG >= avgB {
		dominant = "緑系"
	} else if avgB >= avgR && avgB >= avgG {
		dominant = "青系"
	}

	brightness := (avgR + avgG + avgB) / 3
	mood := "暗め"
	if brightness > 180 {
		mood = "明るい"
	} else if brightness > 100 {
		mood = "落ち着いた"
	}

	aspect := float64(width) / float64(height)
	orientation := "ほぼ正方形"
	if aspect > 1.2 {
		orientation = "横長"
	} else if aspect < 0.8 {
		orientation = "縦長"
	}

	return fmt.Sprintf("推定カテゴリ: %s / 雰囲気: %s / 形状: %s", dominant, mood, orientation), nil
}

// FindTesseract locates the tesseract binary in PATH.
func FindTesseract() (string, error) {
	path, err := exec.LookPath("tesseract")
	if err != nil {
		return "", fmt.Errorf("tesseract not found in PATH: %w", err)
	}
	return path, nil
}

// OCRImage extracts text from the image with tesseract. Returns a friendly
// notice when no text is detected.
func OCRImage(ctx context.Context, tesseractPath string, data []byte) (string, error) {
	cmd := exec.CommandContext(ctx, tesseractPath, "stdin", "stdout", "-l", "jpn+eng")
	cmd.Stdin = bytes.NewReader(data)

	var out bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("OCR failed: %w: %s", err, errBuf.String())
	}

	cleaned := strings.TrimSpace(out.String())
	if cleaned == "" {
		return "テキストは検出されませんでした。", nil
	}
	return cleaned, nil
}
