package operation

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/conarylabs/mira/internal/objectstore"
)

// ArtifactManager creates Artifacts from file-creating tool calls, computing
// a unified diff against the file's CURRENT content (never the previous
// artifact in the same operation, per spec.md §4.12's diff rule) and storing
// the artifact bytes in an ObjectStore.
//
// Grounded on original_source/backend/src/operations/engine/artifacts.rs's
// ArtifactManager::create_artifact / compute_diff.
type ArtifactManager struct {
	objects objectstore.ObjectStore
	seq     *Sequencer
}

func NewArtifactManager(objects objectstore.ObjectStore, seq *Sequencer) *ArtifactManager {
	return &ArtifactManager{objects: objects, seq: seq}
}

// CreateArtifact reads the current content at filePath from the object
// store (standing in for "project_root" disk reads in the original), diffs
// it against newContent, and returns the resulting Artifact plus the
// started/completed events an Engine would append to its event log.
func (m *ArtifactManager) CreateArtifact(ctx context.Context, operationID, kind, filePath, newContent, language string) (Artifact, []Event, error) {
	artifact := Artifact{
		ID:          uuid.NewString(),
		OperationID: operationID,
		Kind:        kind,
		FilePath:    filePath,
		Content:     newContent,
		ContentHash: ContentHash(newContent),
		Language:    language,
	}

	current, err := m.readCurrent(ctx, filePath)
	switch {
	case err == nil:
		artifact.Diff = computeDiff(current, newContent)
		artifact.IsNewFile = false
	case err == objectstore.ErrNotFound:
		artifact.IsNewFile = true
	default:
		return Artifact{}, nil, err
	}

	if m.objects != nil {
		if _, err := m.objects.Put(ctx, filePath, strings.NewReader(newContent), objectstore.PutOptions{ContentType: "text/plain"}); err != nil {
			return Artifact{}, nil, err
		}
	}

	preview := newContent
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}

	events := []Event{
		{
			OperationID:    operationID,
			EventType:      EventArtifactPreview,
			SequenceNumber: m.seq.Next(operationID),
			Data:           map[string]any{"artifact_id": artifact.ID, "path": filePath, "preview": preview},
		},
		{
			OperationID:    operationID,
			EventType:      EventArtifactDone,
			SequenceNumber: m.seq.Next(operationID),
			Data:           map[string]any{"artifact_id": artifact.ID, "is_new_file": artifact.IsNewFile},
		},
	}
	return artifact, events, nil
}

func (m *ArtifactManager) readCurrent(ctx context.Context, filePath string) (string, error) {
	if m.objects == nil {
		return "", objectstore.ErrNotFound
	}
	r, _, err := m.objects.Get(ctx, filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// computeDiff produces a unified-style diff of old -> new content using
// diff-match-patch, the same library (ported from the Rust `similar` crate
// usage) the teacher's file_editor package uses for patch preview.
func computeDiff(oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	patches := dmp.PatchMake(oldContent, diffs)
	if len(patches) == 0 {
		return ""
	}
	return fmt.Sprintf("--- a/original\n+++ b/modified\n%s", dmp.PatchToText(patches))
}
