package notify

import (
	"context"
	"log"
)

// Log writes events through the standard logger.
type Log struct {
	Logger *log.Logger // nil uses the package logger
}

func (l Log) Notify(_ context.Context, e Event) {
	printf := log.Printf
	if l.Logger != nil {
		printf = l.Logger.Printf
	}
	switch e.Kind {
	case KindResultReady:
		printf("[notify] result attempt=%s student=%s exam=%s status=%s score=%d/%d (%.2f%%) letter=%s",
			e.AttemptID, e.StudentID, e.ExamID, e.Status, e.Score, e.TotalMarks, e.Percentage, e.Letter)
	default:
		printf("[notify] %s attempt=%s: %s", e.Kind, e.AttemptID, e.Message)
	}
}
