package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coachdocs/internal/storage"
	storeMocks "coachdocs/internal/storage/mocks"
)

func TestCreateDownloadURL(t *testing.T) {
	ctx := context.Background()
	hs := NewMemoryHandles("http://localhost:8080/")

	t.Run("well formed pdf", func(t *testing.T) {
		h, err := CreateDownloadURL(ctx, hs, "data:application/pdf;base64,JVBERi0xLjQ=", "")
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.True(t, strings.HasPrefix(h.URL, "http://localhost:8080/blobs/"))
		assert.Equal(t, DefaultDownloadMime, h.MimeType)
		assert.Equal(t, 8, h.Size)
	})

	t.Run("missing separator", func(t *testing.T) {
		var h *Handle
		var err error
		assert.NotPanics(t, func() {
			h, err = CreateDownloadURL(ctx, hs, "JVBERi0xLjQ=", "")
		})
		assert.Nil(t, h)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("invalid base64", func(t *testing.T) {
		h, err := CreateDownloadURL(ctx, hs, "data:application/pdf;base64,***", "")
		assert.Nil(t, h)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestMemoryHandles(t *testing.T) {
	ctx := context.Background()
	hs := NewMemoryHandles("http://app")

	src := []byte("contract body")
	h, err := hs.Create(ctx, src, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, hs.Live())

	// The registry keeps its own copy.
	src[0] = 'X'

	token := h.URL[strings.LastIndex(h.URL, "/")+1:]
	data, mt, err := hs.Open(token)
	require.NoError(t, err)
	assert.Equal(t, []byte("contract body"), data)
	assert.Equal(t, "application/pdf", mt)

	require.NoError(t, hs.Release(ctx, h.URL))
	assert.Equal(t, 0, hs.Live())

	_, _, err = hs.Open(token)
	assert.ErrorIs(t, err, ErrHandleNotFound)
	assert.ErrorIs(t, hs.Release(ctx, h.URL), ErrHandleNotFound)
}

func TestMemoryHandles_ReleaseByToken(t *testing.T) {
	ctx := context.Background()
	hs := NewMemoryHandles("")

	h, err := hs.Create(ctx, []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultMimeType, h.MimeType)

	token := strings.TrimPrefix(h.URL, "/blobs/")
	require.NoError(t, hs.Release(ctx, token))
	assert.Zero(t, hs.Live())
}

func TestObjectHandles(t *testing.T) {
	ctx := context.Background()

	t.Run("create and release", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		hs := NewObjectHandles(mStore, time.Minute)

		var key string
		mStore.On("Put", ctx, mock.MatchedBy(func(k string) bool {
			key = k
			return strings.HasPrefix(k, "handles/")
		}), mock.Anything, storage.PutObjectOptions{Size: 5, ContentType: "application/pdf"}).
			Return(storage.ObjectInfo{Size: 5}, nil).Once()
		mStore.On("PresignGet", ctx, mock.Anything, time.Minute).Return("https://s3/handles/abc?sig=1", nil).Once()

		h, err := hs.Create(ctx, []byte("hello"), "application/pdf")
		require.NoError(t, err)
		assert.Equal(t, "https://s3/handles/abc?sig=1", h.URL)
		assert.Equal(t, 1, hs.Live())

		mStore.On("Delete", ctx, key).Return(nil).Once()
		require.NoError(t, hs.Release(ctx, h.URL))
		assert.Equal(t, 0, hs.Live())
		assert.ErrorIs(t, hs.Release(ctx, h.URL), ErrHandleNotFound)

		mStore.AssertExpectations(t)
	})

	t.Run("upload error", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		hs := NewObjectHandles(mStore, 0)

		mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{}, errors.New("bucket gone")).Once()

		h, err := hs.Create(ctx, []byte("x"), "")
		assert.Nil(t, h)
		assert.ErrorContains(t, err, "upload handle content: bucket gone")
		mStore.AssertExpectations(t)
	})

	t.Run("presign error cleans up", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		hs := NewObjectHandles(mStore, time.Minute)

		mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).Return(storage.ObjectInfo{}, nil).Once()
		mStore.On("PresignGet", ctx, mock.Anything, time.Minute).Return("", errors.New("clock skew")).Once()
		mStore.On("Delete", ctx, mock.Anything).Return(nil).Once()

		h, err := hs.Create(ctx, []byte("x"), "")
		assert.Nil(t, h)
		assert.ErrorContains(t, err, "presign handle: clock skew")
		assert.Zero(t, hs.Live())
		mStore.AssertExpectations(t)
	})
}
