package source

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestIsNotFound(t *testing.T) {
	for _, c := range []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("get object: %w", &types.NoSuchKey{}), true},
		{os.ErrNotExist, true},
		{errors.New("access denied"), false},
	} {
		if got := IsNotFound(c.err); got != c.want {
			t.Errorf("IsNotFound(%v) = %t", c.err, got)
		}
	}
}
