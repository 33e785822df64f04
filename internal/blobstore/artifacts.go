package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ArtifactDecryptionProof = "decryption_proof.bin"
	ArtifactUnshieldResult  = "result.json"
)

// UnshieldKey is the key of an artifact belonging to the unshield of burntHandle.
func UnshieldKey(burntHandle common.Hash, artifact string) string {
	return "unshields/" + strings.TrimPrefix(burntHandle.Hex(), "0x") + "/" + artifact
}

// PutJSON stores v as indented JSON under key.
func PutJSON(ctx context.Context, store Store, key string, v any, metadata map[string]string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("blobstore: marshal %s: %w", key, err)
	}
	return store.Put(ctx, key, b, PutOptions{ContentType: "application/json", Metadata: metadata})
}

// GetJSON loads the JSON object stored under key into v.
func GetJSON(ctx context.Context, store Store, key string, v any) error {
	obj, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return fmt.Errorf("blobstore: unmarshal %s: %w", key, err)
	}
	return nil
}
