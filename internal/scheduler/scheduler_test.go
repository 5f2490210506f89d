package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"

	"github.com/savesentry/savesentry/internal/adapter/archive"
	"github.com/savesentry/savesentry/internal/config"
	"github.com/savesentry/savesentry/internal/domain"
	"github.com/savesentry/savesentry/internal/event"
	"github.com/savesentry/savesentry/internal/store"
)

func testManager(t *testing.T, savesRoot, backupRoot string) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`app:
  log_level: error
saves:
  root_path: %s
backup:
  root_path: %s
  interval_seconds: 600
  keep_last: 5
`, savesRoot, backupRoot)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfgm, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfgm
}

func makeSave(t *testing.T, root, name string, payload []byte) domain.SaveSlot {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "world.dat"), payload, 0644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, "world.dat"))
	if err != nil {
		t.Fatal(err)
	}
	return domain.SaveSlot{ID: name, Name: name, Path: dir, ModTime: info.ModTime()}
}

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler over one discovered save", t, func() {
		log := zap.NewNop().Sugar()
		savesRoot := t.TempDir()
		backupRoot := t.TempDir()
		cfgm := testManager(t, savesRoot, backupRoot)

		st, err := store.New(backupRoot, archive.NewZip(), log)
		So(err, ShouldBeNil)

		bus := event.NewBus(16)
		gates := NewGates()

		slot := makeSave(t, savesRoot, "RiversideRun", []byte("world state"))
		discover := func() ([]domain.SaveSlot, error) {
			return []domain.SaveSlot{slot}, nil
		}
		s := New(cfgm, st, gates, bus, discover, log)

		Convey("A manual trigger backs the save up", func() {
			So(s.TriggerBackup("RiversideRun"), ShouldBeNil)
			s.wg.Wait()

			So(st.ListSnapshots("RiversideRun"), ShouldHaveLength, 1)

			ev := <-bus.Events()
			So(ev.Type, ShouldEqual, event.TypeOutcome)
			So(ev.Outcome.Kind, ShouldEqual, event.KindBackup)
			So(ev.Outcome.Trigger, ShouldEqual, domain.TriggerManual)
			So(ev.Outcome.Status, ShouldEqual, domain.StatusSucceeded)
		})

		Convey("A manual trigger for an unknown save fails", func() {
			err := s.TriggerBackup("NoSuchSave")
			So(err, ShouldNotBeNil)
			So(errors.Is(err, domain.ErrBusy), ShouldBeFalse)
		})

		Convey("A manual trigger while the slot is running is rejected", func() {
			gates.Acquire("RiversideRun")
			err := s.TriggerBackup("RiversideRun")
			So(errors.Is(err, domain.ErrBusy), ShouldBeTrue)

			gates.Release("RiversideRun")
			So(s.TriggerBackup("RiversideRun"), ShouldBeNil)
			s.wg.Wait()
		})

		Convey("Two back-to-back manual triggers admit exactly one job", func() {
			// The gate is taken before TriggerBackup returns, so the second
			// request sees it held no matter how fast the first job runs.
			first := s.TriggerBackup("RiversideRun")
			second := s.TriggerBackup("RiversideRun")
			s.wg.Wait()

			So(first, ShouldBeNil)
			So(errors.Is(second, domain.ErrBusy), ShouldBeTrue)
			So(st.ListSnapshots("RiversideRun"), ShouldHaveLength, 1)
		})

		Convey("An interval tick while the slot is running is dropped", func() {
			gates.Acquire("RiversideRun")
			s.tick()
			gates.Release("RiversideRun")
			s.wg.Wait()

			So(st.ListSnapshots("RiversideRun"), ShouldBeEmpty)
		})

		Convey("Pausing suppresses interval ticks but not manual triggers", func() {
			s.SetPaused(true)
			So(s.Paused(), ShouldBeTrue)

			s.tick()
			s.wg.Wait()
			So(st.ListSnapshots("RiversideRun"), ShouldBeEmpty)

			So(s.TriggerBackup("RiversideRun"), ShouldBeNil)
			s.wg.Wait()
			So(st.ListSnapshots("RiversideRun"), ShouldHaveLength, 1)

			s.SetPaused(false)
			So(s.Paused(), ShouldBeFalse)
		})

		Convey("An interval tick backs up every idle slot", func() {
			s.tick()
			s.wg.Wait()

			So(st.ListSnapshots("RiversideRun"), ShouldHaveLength, 1)

			Convey("And a second tick with no changes adds nothing", func() {
				s.tick()
				s.wg.Wait()
				So(st.ListSnapshots("RiversideRun"), ShouldHaveLength, 1)
			})
		})

		Convey("A failing slot does not fail the pass for others", func() {
			good := slot
			missing := domain.SaveSlot{
				ID:      "Vanished",
				Name:    "Vanished",
				Path:    filepath.Join(savesRoot, "gone"),
				ModTime: time.Now(),
			}
			s.discover = func() ([]domain.SaveSlot, error) {
				return []domain.SaveSlot{missing, good}, nil
			}

			err := s.BackupPass()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Vanished")
			So(st.ListSnapshots("RiversideRun"), ShouldHaveLength, 1)
		})

		Convey("BackupPass succeeds when every slot succeeds", func() {
			So(s.BackupPass(), ShouldBeNil)
			So(st.ListSnapshots("RiversideRun"), ShouldHaveLength, 1)
		})
	})
}
