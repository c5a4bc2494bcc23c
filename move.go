package objectdal

import "context"

// MoveObject moves src to dst by copying then deleting src. The operators
// may differ. src is kept when the copy fails.
func MoveObject(ctx context.Context, src, dst *Object) error {
	if _, err := CopyObject(ctx, src, dst); err != nil {
		return err
	}
	return src.Delete(ctx)
}
