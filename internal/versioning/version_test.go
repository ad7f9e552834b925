package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhalberd/tracegraph/api/schemas"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		v, err := Parse("2.17")
		require.NoError(t, err)
		assert.Equal(t, Version{Major: 2, Minor: 17}, v)
		assert.Equal(t, "2.17", v.String())
	})

	t.Run("rejects everything else", func(t *testing.T) {
		bad := []string{"", "1", "1.2.3", "v1.0", "1.a", "1.", ".1", "1 .0", "-1.0", "1.-2"}
		for _, s := range bad {
			_, err := Parse(s)
			assert.ErrorIs(t, err, schemas.ErrInvalidVersionFormat, "input %q", s)
		}
	})
}

func TestVersionTransitions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Version{1, 1}, Version{1, 0}.NextMinor())
	assert.Equal(t, Version{2, 0}, Version{1, 9}.NextMajor(), "major bump resets minor")
	assert.Equal(t, Initial, Version{1, 0})
}

func TestVersionCompare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Version{1, 2}.Compare(Version{1, 2}))
	assert.Equal(t, -1, Version{1, 2}.Compare(Version{1, 10}), "minor compares numerically, not lexically")
	assert.Equal(t, 1, Version{2, 0}.Compare(Version{1, 99}))
}
