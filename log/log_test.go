package log

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type captureSink struct {
	lines []string
}

func (s *captureSink) Output(callDepth int, formatted string) {
	s.lines = append(s.lines, formatted)
}

var _ = Describe("Logger", func() {
	var sink *captureSink
	var l Logger

	BeforeEach(func() {
		sink = &captureSink{}
		l = NewLoggerSink(InfoLevel, sink)
	})

	It("formats the level into the message", func() {
		l.Info("listening")
		Expect(sink.lines).To(HaveLen(1))
		Expect(sink.lines[0]).To(Equal("INFO: listening"))
	})

	It("drops messages below the configured level", func() {
		l.Debug("too chatty")
		Expect(sink.lines).To(BeEmpty())
	})

	It("carries structured fields into the formatted line", func() {
		withFields := l.WithFields(Fields{"addr": "127.0.0.1:11211"})
		withFields.Warnf("refused connection from %s", "10.0.0.1")
		Expect(sink.lines).To(HaveLen(1))
		Expect(sink.lines[0]).To(ContainSubstring("WARN:"))
		Expect(sink.lines[0]).To(ContainSubstring("addr"))
		Expect(sink.lines[0]).To(ContainSubstring("refused connection from 10.0.0.1"))
	})

	It("does not mutate the parent logger's fields", func() {
		base := l.WithFields(Fields{"a": 1})
		_ = base.WithFields(Fields{"b": 2})
		Expect(base.Fields()).To(HaveLen(1))
	})

	It("round-trips every level through its string form", func() {
		levels := []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel}
		for _, level := range levels {
			parsed, err := LevelFromString(level.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(level))
		}
	})

	It("rejects an unknown level name", func() {
		_, err := LevelFromString("TRACE")
		Expect(err).To(HaveOccurred())
	})
})
