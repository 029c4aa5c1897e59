package store

import (
	"bytes"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStorage archives transcript files in a Supabase bucket.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseStorage(config SupabaseConfig) (*SupabaseStorage, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: create supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: config.Bucket}, nil
}

func (s *SupabaseStorage) Upload(key, contentType string, data []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store: upload to supabase: %w", err)
	}
	return nil
}
