package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/echonote/engine/internal/errs"
)

// Converter renders a persisted Artifact into one of the supported export
// formats. Pluggable per spec §4.6's export_result contract.
type Converter interface {
	Convert(ctx context.Context, artifact Artifact, format string) ([]byte, error)
}

// defaultConverter implements the three formats spec §6.2 names as
// round-trippable: txt, srt, md.
type defaultConverter struct{}

// NewDefaultConverter returns the built-in txt/srt/md Converter.
func NewDefaultConverter() Converter {
	return defaultConverter{}
}

func (defaultConverter) Convert(_ context.Context, artifact Artifact, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "txt":
		return convertTxt(artifact), nil
	case "srt":
		return convertSRT(artifact), nil
	case "md":
		return convertMD(artifact), nil
	default:
		return nil, errs.Validationf("transcription: unsupported output format %q", format)
	}
}

func convertTxt(a Artifact) []byte {
	var b strings.Builder
	for _, seg := range a.Segments {
		b.WriteString(seg.Text)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func convertSRT(a Artifact) []byte {
	var b strings.Builder
	for i, seg := range a.Segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(seg.Start), srtTimestamp(seg.End), seg.Text)
	}
	return []byte(b.String())
}

func convertMD(a Artifact) []byte {
	var b strings.Builder
	b.WriteString("# Transcript\n\n")
	if a.Language != "" {
		fmt.Fprintf(&b, "_Language: %s_\n\n", a.Language)
	}
	for _, seg := range a.Segments {
		fmt.Fprintf(&b, "- **[%s – %s]** %s\n", srtTimestamp(seg.Start), srtTimestamp(seg.End), seg.Text)
	}
	return []byte(b.String())
}

func srtTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	secs := d / time.Second
	d -= secs * time.Second
	millis := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
