package s3blob

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("http %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("get: %w", &types.NoSuchKey{})))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(fmt.Errorf("head: %w", statusErr(404))))
	assert.False(t, isNotFound(statusErr(403)))
	assert.False(t, isNotFound(errors.New("connection reset")))
}

func TestReadCapped(t *testing.T) {
	raw, err := readCapped(strings.NewReader("abcd"), 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(raw))

	_, err = readCapped(strings.NewReader("abcde"), 4)
	require.ErrorIs(t, err, errReportTooLarge)
}

func TestMultipartThreshold(t *testing.T) {
	assert.False(t, multipart(0))
	assert.False(t, multipart(int(MinPartSize)))
	assert.True(t, multipart(int(MinPartSize)+1))
}
