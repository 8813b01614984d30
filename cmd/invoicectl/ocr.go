package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-extractor/internal/decode"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

var normalize bool

var ocrCmd = &cobra.Command{
	Use:   "ocr <file>",
	Short: "Decode one document and print the recognized text of every page",
	Args:  cobra.ExactArgs(1),
	RunE:  runOCR,
}

func init() {
	ocrCmd.Flags().BoolVar(&normalize, "normalize", false, "print normalized text instead of raw lines")
}

func runOCR(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	src := entity.SourceFile{Name: filepath.Base(args[0]), Data: data}
	if _, err := decode.Check(src.Name, src.Data); err != nil {
		return err
	}

	decoded, err := decode.NewDecoder(decode.Config{
		MaxArchiveDepth: cfg.Pipeline.MaxArchiveDepth,
		MaxPages:        cfg.OCR.MaxPages,
	}, logger).Decode(ctx, src)
	if err != nil {
		return err
	}
	for _, w := range decoded.Warnings {
		logger.Warn("decode warning", "warning", w)
	}

	rec := ocr.NewTesseract(ocr.Config{
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		PSM:           cfg.OCR.PSM,
		OEM:           cfg.OCR.OEM,
		Preprocess:    cfg.OCR.Preprocess,
		MaxImageWidth: cfg.OCR.MaxImageWidth,
	}, logger)

	out := cmd.OutOrStdout()
	for _, page := range decoded.Pages {
		res, err := rec.Recognize(ctx, page)
		if err != nil {
			return fmt.Errorf("page %d: %w", page.Index+1, err)
		}
		header := fmt.Sprintf("--- page %d", page.Index+1)
		if page.Entry != "" {
			header += " (" + page.Entry + ")"
		}
		fmt.Fprintf(out, "%s, %d regions ---\n", header, len(res.Regions))
		txt := res.Text()
		if normalize {
			txt = ocr.Normalize(txt)
		}
		fmt.Fprintln(out, txt)
	}
	return nil
}
