package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Speaker озвучивает ответ репортеру. Подтверждение завершения не требуется.
type Speaker interface {
	Speak(text string)
}

type nopSpeaker struct{}

func (nopSpeaker) Speak(string) {}

// WriterSpeaker печатает реплики в поток (консольный клиент)
type WriterSpeaker struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

func NewWriterSpeaker(w io.Writer, prefix string) *WriterSpeaker {
	return &WriterSpeaker{w: w, prefix: prefix}
}

func (s *WriterSpeaker) Speak(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s%s\n", s.prefix, text)
}

// Transcriber выдает одну итоговую расшифровку за сеанс прослушивания
type Transcriber interface {
	Listen(ctx context.Context) (string, error)
}

// LineTranscriber читает расшифровки построчно: одна строка - одна фраза
type LineTranscriber struct {
	scanner *bufio.Scanner
}

func NewLineTranscriber(r io.Reader) *LineTranscriber {
	return &LineTranscriber{scanner: bufio.NewScanner(r)}
}

// Listen возвращает следующую непустую строку или io.EOF
func (t *LineTranscriber) Listen(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		if line := strings.TrimSpace(t.scanner.Text()); line != "" {
			return line, nil
		}
	}
}
