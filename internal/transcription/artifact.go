package transcription

import "github.com/echonote/engine/pkg/speech"

// ArtifactSegment is one line of the internal transcription artifact,
// round-trippable under a Converter into txt/srt/md per spec §6.2.
type ArtifactSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Artifact is the structured result persisted to transcripts/<task_id>.json
// after a successful engine call.
type Artifact struct {
	Segments []ArtifactSegment `json:"segments"`
	Duration *float64          `json:"duration,omitempty"`
	Language string            `json:"language,omitempty"`
}

func artifactFromResult(r speech.Result) Artifact {
	segments := make([]ArtifactSegment, 0, len(r.Segments))
	for _, s := range r.Segments {
		segments = append(segments, ArtifactSegment{
			Start: s.Start.Seconds(),
			End:   s.End.Seconds(),
			Text:  s.Source,
		})
	}
	a := Artifact{Segments: segments, Language: r.Language}
	if r.Duration > 0 {
		d := r.Duration.Seconds()
		a.Duration = &d
	}
	return a
}
