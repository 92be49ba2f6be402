package settings

import "github.com/echonote/engine/internal/errs"

// ReminderMinutesOptions enumerates the legal values for
// timeline.reminder_minutes (spec §6.3's TIMELINE_REMINDER_MINUTES_OPTIONS).
var ReminderMinutesOptions = []int{5, 10, 15, 30, 60}

// StopConfirmationDelayMaxMinutes bounds
// timeline.stop_confirmation_delay_minutes (spec §6.3's
// STOP_CONFIRMATION_DELAY_MAX_MINUTES).
const StopConfirmationDelayMaxMinutes = 60

var supportedOutputFormats = map[string]bool{"txt": true, "srt": true, "md": true}
var supportedRecordingFormats = map[string]bool{"wav": true, "mp3": true, "ogg": true}
var supportedTranslationEngines = map[string]bool{"none": true, "anyllm": true}
var supportedWhisperModelSizes = map[string]bool{
	"tiny": true, "base": true, "small": true, "medium": true,
	"large": true, "large-v2": true, "large-v3": true,
}
var supportedThemes = map[string]bool{"light": true, "dark": true, "system": true}

type validatorFunc func(value any) error

// validators maps every legal dotted key (spec §6.3's full key table) to its
// validation rule. A key absent from this map is rejected by Set/Get/
// ResetToDefault as unknown.
var validators = map[string]validatorFunc{
	"database.path":                  validateNonEmptyString,
	"database.encryption_enabled":    validateBool,
	"transcription.default_engine":   validateNonEmptyString,
	"transcription.default_output_format": validateOneOf(supportedOutputFormats),
	"transcription.max_concurrent_tasks":  validateIntRange(1, 5),
	"transcription.max_retries":           validateIntMin(0),
	"transcription.retry_delay":           validateNumberMin(0),
	"transcription.faster_whisper.model_size": validateOneOf(supportedWhisperModelSizes),
	"realtime.recording_format":    validateOneOf(supportedRecordingFormats),
	"realtime.translation_engine":  validateOneOf(supportedTranslationEngines),
	"realtime.vad_threshold":       validateNumberRange(0, 1),
	"realtime.silence_duration_ms": validateIntMin(0),
	"realtime.min_audio_duration":  validateNumberMin(0),
	"timeline.reminder_minutes":    validateIntOneOf(ReminderMinutesOptions),
	"timeline.auto_stop_grace_minutes":         validateIntMin(0),
	"timeline.stop_confirmation_delay_minutes": validateIntRange(1, StopConfirmationDelayMaxMinutes),
	"timeline.auto_start_enabled":              validateBool,
	"resource_monitor.low_memory_mb":    validateNumberRange(64, 1048576),
	"resource_monitor.high_cpu_percent": validateNumberRange(1, 100),
	"ui.theme":                          validateOneOf(supportedThemes),
}

func validateNonEmptyString(value any) error {
	s, ok := value.(string)
	if !ok || s == "" {
		return errs.Validationf("settings: expected a non-empty string, got %#v", value)
	}
	return nil
}

func validateBool(value any) error {
	if _, ok := value.(bool); !ok {
		return errs.Validationf("settings: expected a boolean, got %#v", value)
	}
	return nil
}

func validateOneOf(allowed map[string]bool) validatorFunc {
	return func(value any) error {
		s, ok := value.(string)
		if !ok || !allowed[s] {
			return errs.Validationf("settings: %#v is not one of the supported values", value)
		}
		return nil
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func validateIntRange(min, max int) validatorFunc {
	return func(value any) error {
		n, ok := value.(int)
		if !ok {
			if f, isFloat := value.(float64); isFloat && f == float64(int(f)) {
				n = int(f)
			} else {
				return errs.Validationf("settings: expected an integer, got %#v", value)
			}
		}
		if n < min || n > max {
			return errs.Validationf("settings: %d is out of range [%d, %d]", n, min, max)
		}
		return nil
	}
}

func validateIntMin(min int) validatorFunc {
	return validateIntRange(min, int(^uint(0)>>1))
}

func validateIntOneOf(allowed []int) validatorFunc {
	return func(value any) error {
		n, ok := value.(int)
		if !ok {
			if f, isFloat := value.(float64); isFloat && f == float64(int(f)) {
				n = int(f)
			} else {
				return errs.Validationf("settings: expected an integer, got %#v", value)
			}
		}
		for _, a := range allowed {
			if n == a {
				return nil
			}
		}
		return errs.Validationf("settings: %d is not one of %v", n, allowed)
	}
}

func validateNumberMin(min float64) validatorFunc {
	return func(value any) error {
		f, ok := asFloat(value)
		if !ok {
			return errs.Validationf("settings: expected a number, got %#v", value)
		}
		if f < min {
			return errs.Validationf("settings: %v is below minimum %v", f, min)
		}
		return nil
	}
}

func validateNumberRange(min, max float64) validatorFunc {
	return func(value any) error {
		f, ok := asFloat(value)
		if !ok {
			return errs.Validationf("settings: expected a number, got %#v", value)
		}
		if f < min || f > max {
			return errs.Validationf("settings: %v is out of range [%v, %v]", f, min, max)
		}
		return nil
	}
}

// defaultValue reads key out of a typed Tree via explicit dotted-key
// traversal (see the package doc for why this is a switch, not reflection).
func defaultValue(t Tree, key string) (any, bool) {
	switch key {
	case "database.path":
		return t.Database.Path, true
	case "database.encryption_enabled":
		return t.Database.EncryptionEnabled, true
	case "transcription.default_engine":
		return t.Transcription.DefaultEngine, true
	case "transcription.default_output_format":
		return t.Transcription.DefaultOutputFormat, true
	case "transcription.max_concurrent_tasks":
		return t.Transcription.MaxConcurrentTasks, true
	case "transcription.max_retries":
		return t.Transcription.MaxRetries, true
	case "transcription.retry_delay":
		return t.Transcription.RetryDelaySeconds, true
	case "transcription.faster_whisper.model_size":
		return t.Transcription.FasterWhisperModelSize, true
	case "realtime.recording_format":
		return t.Realtime.RecordingFormat, true
	case "realtime.translation_engine":
		return t.Realtime.TranslationEngine, true
	case "realtime.vad_threshold":
		return t.Realtime.VADThreshold, true
	case "realtime.silence_duration_ms":
		return t.Realtime.SilenceDurationMs, true
	case "realtime.min_audio_duration":
		return t.Realtime.MinAudioDurationSec, true
	case "timeline.reminder_minutes":
		return t.Timeline.ReminderMinutes, true
	case "timeline.auto_stop_grace_minutes":
		return t.Timeline.AutoStopGraceMinutes, true
	case "timeline.stop_confirmation_delay_minutes":
		return t.Timeline.StopConfirmationDelayMinutes, true
	case "timeline.auto_start_enabled":
		return t.Timeline.AutoStartEnabled, true
	case "resource_monitor.low_memory_mb":
		return t.ResourceMonitor.LowMemoryMB, true
	case "resource_monitor.high_cpu_percent":
		return t.ResourceMonitor.HighCPUPercent, true
	case "ui.theme":
		return t.UI.Theme, true
	default:
		return nil, false
	}
}

// applyToTree writes value (already validated) into t at key.
func applyToTree(t *Tree, key string, value any) {
	switch key {
	case "database.path":
		t.Database.Path = value.(string)
	case "database.encryption_enabled":
		t.Database.EncryptionEnabled = value.(bool)
	case "transcription.default_engine":
		t.Transcription.DefaultEngine = value.(string)
	case "transcription.default_output_format":
		t.Transcription.DefaultOutputFormat = value.(string)
	case "transcription.max_concurrent_tasks":
		t.Transcription.MaxConcurrentTasks = toInt(value)
	case "transcription.max_retries":
		t.Transcription.MaxRetries = toInt(value)
	case "transcription.retry_delay":
		t.Transcription.RetryDelaySeconds, _ = asFloat(value)
	case "transcription.faster_whisper.model_size":
		t.Transcription.FasterWhisperModelSize = value.(string)
	case "realtime.recording_format":
		t.Realtime.RecordingFormat = value.(string)
	case "realtime.translation_engine":
		t.Realtime.TranslationEngine = value.(string)
	case "realtime.vad_threshold":
		t.Realtime.VADThreshold, _ = asFloat(value)
	case "realtime.silence_duration_ms":
		t.Realtime.SilenceDurationMs = toInt(value)
	case "realtime.min_audio_duration":
		t.Realtime.MinAudioDurationSec, _ = asFloat(value)
	case "timeline.reminder_minutes":
		t.Timeline.ReminderMinutes = toInt(value)
	case "timeline.auto_stop_grace_minutes":
		t.Timeline.AutoStopGraceMinutes = toInt(value)
	case "timeline.stop_confirmation_delay_minutes":
		t.Timeline.StopConfirmationDelayMinutes = toInt(value)
	case "timeline.auto_start_enabled":
		t.Timeline.AutoStartEnabled = value.(bool)
	case "resource_monitor.low_memory_mb":
		t.ResourceMonitor.LowMemoryMB, _ = asFloat(value)
	case "resource_monitor.high_cpu_percent":
		t.ResourceMonitor.HighCPUPercent, _ = asFloat(value)
	case "ui.theme":
		t.UI.Theme = value.(string)
	}
}

func toInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
