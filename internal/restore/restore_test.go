package restore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"

	"github.com/savesentry/savesentry/internal/adapter/archive"
	"github.com/savesentry/savesentry/internal/domain"
	"github.com/savesentry/savesentry/internal/event"
	"github.com/savesentry/savesentry/internal/retention"
	"github.com/savesentry/savesentry/internal/scheduler"
	"github.com/savesentry/savesentry/internal/store"
)

func TestOperator(t *testing.T) {
	Convey("Given a save with one snapshot", t, func() {
		log := zap.NewNop().Sugar()
		bus := event.NewBus(16)
		gates := scheduler.NewGates()
		codec := archive.NewZip()

		st, err := store.New(t.TempDir(), codec, log)
		So(err, ShouldBeNil)

		liveDir := filepath.Join(t.TempDir(), "KnoxCounty")
		So(os.MkdirAll(liveDir, 0755), ShouldBeNil)
		So(os.WriteFile(filepath.Join(liveDir, "world.dat"), []byte("day 12"), 0644), ShouldBeNil)
		info, err := os.Stat(filepath.Join(liveDir, "world.dat"))
		So(err, ShouldBeNil)

		slot := domain.SaveSlot{ID: "KnoxCounty", Name: "KnoxCounty", Path: liveDir, ModTime: info.ModTime()}
		snap, _, err := st.CreateSnapshot(slot, true, retention.Policy{})
		So(err, ShouldBeNil)

		op := NewOperator(gates, st, codec, bus, log)

		Convey("Restore brings the snapshot back into the live directory", func() {
			So(os.WriteFile(filepath.Join(liveDir, "world.dat"), []byte("day 13, everything died"), 0644), ShouldBeNil)

			dest, err := op.Restore(slot, snap)
			So(err, ShouldBeNil)
			So(dest, ShouldEqual, liveDir)

			content, err := os.ReadFile(filepath.Join(liveDir, "world.dat"))
			So(err, ShouldBeNil)
			So(string(content), ShouldEqual, "day 12")

			ev := <-bus.Events()
			So(ev.Type, ShouldEqual, event.TypeOutcome)
			So(ev.Outcome.Kind, ShouldEqual, event.KindRestore)
			So(ev.Outcome.Status, ShouldEqual, domain.StatusSucceeded)
			So(ev.Outcome.Path, ShouldEqual, liveDir)
		})

		Convey("Restore of a missing archive fails without touching the save", func() {
			So(os.Remove(snap.Path), ShouldBeNil)

			_, err := op.Restore(slot, snap)
			So(err, ShouldNotBeNil)

			content, readErr := os.ReadFile(filepath.Join(liveDir, "world.dat"))
			So(readErr, ShouldBeNil)
			So(string(content), ShouldEqual, "day 12")

			ev := <-bus.Events()
			So(ev.Outcome.Status, ShouldEqual, domain.StatusFailed)
			So(ev.Outcome.ErrorKind, ShouldEqual, "io")
		})

		Convey("A restore issued during a backup waits for the gate", func() {
			gates.Acquire(slot.ID) // simulate a running backup

			done := make(chan error, 1)
			go func() {
				_, err := op.Restore(slot, snap)
				done <- err
			}()

			select {
			case <-done:
				So("restore ran while the backup held the gate", ShouldBeEmpty)
			case <-time.After(100 * time.Millisecond):
				// still waiting, as it should be
			}

			gates.Release(slot.ID)
			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(5 * time.Second):
				So("restore never ran after the backup finished", ShouldBeEmpty)
			}
		})

		Convey("The target snapshot cannot be deleted while restoring", func() {
			st.Pin(snap)
			So(st.DeleteSnapshot(slot.ID, snap), ShouldEqual, domain.ErrInUse)
			st.Unpin(snap)
		})
	})
}
