package logging

import (
	"log/slog"
	"time"
)

// Field names used across services so log queries stay uniform.
const (
	FieldService       = "service"
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldUserID        = "user_id"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatus        = "status"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldItemID        = "item_id"
	FieldItemType      = "item_type"
	FieldVersion       = "version"
	FieldSubject       = "subject"
	FieldConsumer      = "consumer"
	FieldCorrelationID = "correlation_id"
	FieldLogDay        = "log_day"
)

func Service(name string) slog.Attr { return slog.String(FieldService, name) }

func UserID(id string) slog.Attr { return slog.String(FieldUserID, id) }

func Method(method string) slog.Attr { return slog.String(FieldMethod, method) }

func Path(path string) slog.Attr { return slog.String(FieldPath, path) }

func Status(code int) slog.Attr { return slog.Int(FieldStatus, code) }

// Duration reports d in milliseconds.
func Duration(d time.Duration) slog.Attr { return slog.Int64(FieldDuration, d.Milliseconds()) }

// Error returns an error attribute; a nil error is logged as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Item returns the (id, type) pair identifying a versioned item as a group.
func Item(id, itemType string) slog.Attr {
	return slog.Group("item", slog.String("id", id), slog.String("type", itemType))
}

func Version(v int64) slog.Attr { return slog.Int64(FieldVersion, v) }

func Subject(s string) slog.Attr { return slog.String(FieldSubject, s) }

func Consumer(name string) slog.Attr { return slog.String(FieldConsumer, name) }

func CorrelationID(id string) slog.Attr { return slog.String(FieldCorrelationID, id) }

func LogDay(day string) slog.Attr { return slog.String(FieldLogDay, day) }
