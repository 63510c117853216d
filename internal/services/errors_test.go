package services_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"imgus-backend/internal/models"
	"imgus-backend/internal/services"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&services.DownloadError{URL: "u", StatusCode: 403}, "download_http_403"},
		{&services.DownloadError{URL: "u", Err: errors.New("timeout")}, models.CodeDownloadFailed},
		{fmt.Errorf("wrapped: %w", &services.StorageError{Key: "k", Err: errors.New("denied")}), models.CodeStorageFailed},
		{errors.New("record failed"), models.CodeIngestError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, services.ErrorCode(tt.err), tt.err.Error())
	}
}
