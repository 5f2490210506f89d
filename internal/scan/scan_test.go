package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSlots(t *testing.T) {
	Convey("Given a save root", t, func() {
		root := t.TempDir()

		mkSave := func(name string, age time.Duration) {
			dir := filepath.Join(root, name)
			So(os.MkdirAll(dir, 0755), ShouldBeNil)
			file := filepath.Join(dir, "world.dat")
			So(os.WriteFile(file, []byte(name), 0644), ShouldBeNil)
			mod := time.Now().Add(-age)
			So(os.Chtimes(file, mod, mod), ShouldBeNil)
			So(os.Chtimes(dir, mod, mod), ShouldBeNil)
		}

		Convey("With several saves and a stray file", func() {
			mkSave("OldTown", 48*time.Hour)
			mkSave("FreshStart", time.Hour)
			So(os.WriteFile(filepath.Join(root, "notes.txt"), []byte("not a save"), 0644), ShouldBeNil)

			slots, err := Slots(root)
			So(err, ShouldBeNil)

			Convey("Only directories are slots, most recent first", func() {
				So(slots, ShouldHaveLength, 2)
				So(slots[0].ID, ShouldEqual, "FreshStart")
				So(slots[1].ID, ShouldEqual, "OldTown")
				So(slots[0].Path, ShouldEqual, filepath.Join(root, "FreshStart"))
			})
		})

		Convey("A slot's mod time reflects files deep in the tree", func() {
			mkSave("Nested", 48*time.Hour)
			deep := filepath.Join(root, "Nested", "chunks", "chunk_0.dat")
			So(os.MkdirAll(filepath.Dir(deep), 0755), ShouldBeNil)
			So(os.WriteFile(deep, []byte("fresh chunk"), 0644), ShouldBeNil)

			slots, err := Slots(root)
			So(err, ShouldBeNil)
			So(slots, ShouldHaveLength, 1)
			So(slots[0].ModTime, ShouldHappenAfter, time.Now().Add(-time.Minute))
		})

		Convey("A missing root yields no slots and no error", func() {
			slots, err := Slots(filepath.Join(root, "does-not-exist"))
			So(err, ShouldBeNil)
			So(slots, ShouldBeEmpty)
		})
	})
}
