package objectdal_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/grokify/objectdal"
)

var walkSeed = []string{"x/", "x/y", "x/x/", "x/x/y", "x/x/x/", "x/x/x/y", "x/x/x/x/"}

func seed(t *testing.T, op *objectdal.Operator, paths []string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range paths {
		o := op.Object(p)
		var err error
		if strings.HasSuffix(p, "/") {
			err = o.Create(ctx)
		} else {
			err = o.Write(ctx, []byte(p))
		}
		if err != nil {
			t.Fatalf("seed %q failed: %v", p, err)
		}
	}
}

type walker interface {
	Next(ctx context.Context) (*objectdal.Object, error)
}

func collectWalk(t *testing.T, w walker) []string {
	t.Helper()
	var out []string
	for {
		o, err := w.Next(context.Background())
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, o.Path())
	}
}

func indexOf(paths []string, p string) int {
	for i, v := range paths {
		if v == p {
			return i
		}
	}
	return -1
}

func TestWalkTopDown(t *testing.T) {
	op := newMemoryOperator(t)
	seed(t, op, walkSeed)

	w, err := op.Batch().WalkTopDown("x/")
	if err != nil {
		t.Fatalf("WalkTopDown failed: %v", err)
	}
	got := collectWalk(t, w)
	if len(got) != len(walkSeed) {
		t.Fatalf("walked %q, want %d entries", got, len(walkSeed))
	}
	if got[0] != "x/" {
		t.Errorf("first entry = %q, want x/", got[0])
	}
	for _, p := range walkSeed {
		i := indexOf(got, p)
		if i < 0 {
			t.Errorf("%q not visited", p)
			continue
		}
		if parent := objectdal.GetParent(p); strings.HasPrefix(parent, "x/") && indexOf(got, parent) > i {
			t.Errorf("%q visited before its parent %q", p, parent)
		}
	}
}

func TestWalkBottomUp(t *testing.T) {
	op := newMemoryOperator(t)
	seed(t, op, walkSeed)

	w, err := op.Batch().WalkBottomUp("x/")
	if err != nil {
		t.Fatalf("WalkBottomUp failed: %v", err)
	}
	got := collectWalk(t, w)
	if len(got) != len(walkSeed) {
		t.Fatalf("walked %q, want %d entries", got, len(walkSeed))
	}
	if got[len(got)-1] != "x/" {
		t.Errorf("last entry = %q, want x/", got[len(got)-1])
	}
	for _, p := range walkSeed {
		i := indexOf(got, p)
		if i < 0 {
			t.Errorf("%q not visited", p)
			continue
		}
		if parent := objectdal.GetParent(p); strings.HasPrefix(parent, "x/") && indexOf(got, parent) < i {
			t.Errorf("%q visited after its parent %q", p, parent)
		}
	}
}

func TestWalkSynthesizesElidedDirectories(t *testing.T) {
	op := newMemoryOperator(t)
	// Only files: every directory is implied by keys.
	seed(t, op, []string{"a/b/c/d", "a/e"})

	w, _ := op.Batch().WalkTopDown("a/")
	got := collectWalk(t, w)
	for _, p := range []string{"a/", "a/b/", "a/b/c/", "a/b/c/d", "a/e"} {
		if indexOf(got, p) < 0 {
			t.Errorf("top down missed %q in %q", p, got)
		}
	}
	if len(got) != 5 {
		t.Errorf("top down = %q, want 5 entries", got)
	}
}

func TestWalkRequiresDirectory(t *testing.T) {
	op := newMemoryOperator(t)
	if _, err := op.Batch().WalkTopDown("file"); objectdal.KindOf(err) != objectdal.ErrorKindObjectNotADirectory {
		t.Errorf("WalkTopDown(file) kind = %v", objectdal.KindOf(err))
	}
	if _, err := op.Batch().WalkBottomUp("file"); objectdal.KindOf(err) != objectdal.ErrorKindObjectNotADirectory {
		t.Errorf("WalkBottomUp(file) kind = %v", objectdal.KindOf(err))
	}
}

func TestRemoveAll(t *testing.T) {
	op := newMemoryOperator(t)
	seed(t, op, walkSeed)
	seed(t, op, []string{"keep"})
	ctx := context.Background()

	if err := op.Batch().WithLimit(2).RemoveAll(ctx, "x/"); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	for _, p := range walkSeed {
		if ok, err := op.Object(p).IsExist(ctx); err != nil || ok {
			t.Errorf("%q still exists after RemoveAll (%v)", p, err)
		}
	}
	if ok, _ := op.Object("keep").IsExist(ctx); !ok {
		t.Error("RemoveAll removed an unrelated file")
	}
	if err := op.Batch().RemoveAll(ctx, "keep"); err != nil {
		t.Fatalf("RemoveAll(file) failed: %v", err)
	}
	if ok, _ := op.Object("keep").IsExist(ctx); ok {
		t.Error("RemoveAll(file) did not delete it")
	}
}
