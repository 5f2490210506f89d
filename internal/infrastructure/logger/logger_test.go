package logger

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given the logger package", t, func() {
		Convey("With console output only", func() {
			log, err := New("info", "")

			So(err, ShouldBeNil)
			So(log, ShouldNotBeNil)
			So(func() { log.Infof("hello from %s", "console") }, ShouldNotPanic)
			So(func() { log.Close() }, ShouldNotPanic)
		})

		Convey("With a log file configured", func() {
			logFile := filepath.Join(t.TempDir(), "logs", "savesentry.log")

			log, err := New("debug", logFile)
			So(err, ShouldBeNil)

			log.Debugf("file sink check")
			_ = log.Sync()

			_, err = os.Stat(logFile)
			So(err, ShouldBeNil)
			log.Close()
		})

		Convey("With an unknown log level", func() {
			log, err := New("loud", "")

			Convey("It falls back to info", func() {
				So(err, ShouldBeNil)
				So(log, ShouldNotBeNil)
				So(func() { log.Infof("still works") }, ShouldNotPanic)
			})
		})

		Convey("With a log directory that cannot be created", func() {
			_, err := New("info", "/proc/does-not-exist/savesentry.log")

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create log directory")
		})
	})
}
