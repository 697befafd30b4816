package memory

import (
	"context"
	"strings"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// CreateInput describes a memory to store. Empty Type and Category default to
// long_term and interaction.
type CreateInput struct {
	OwnerID   string
	Content   string
	Type      model.MemoryType
	Category  model.MemoryCategory
	Tags      []string
	Metadata  map[string]any
	ExpiresAt *time.Time
}

// Create validates the input, embeds the content and stores the memory. Nothing is stored
// when embedding fails.
func (u *UseCase) Create(ctx context.Context, input CreateInput) (*model.Memory, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "memory content is empty")
	}
	if input.Type == "" {
		input.Type = model.MemoryTypeLongTerm
	}
	if input.Category == "" {
		input.Category = model.MemoryCategoryInteraction
	}
	if err := input.Type.Validate(); err != nil {
		return nil, err
	}
	if err := input.Category.Validate(); err != nil {
		return nil, err
	}

	embedding, err := u.embed(ctx, input.Content)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed memory content", goerr.V("owner", input.OwnerID))
	}

	now := u.now()
	memory := &model.Memory{
		ID:             model.NewMemoryID(),
		OwnerID:        input.OwnerID,
		Type:           input.Type,
		Category:       input.Category,
		Content:        input.Content,
		Embedding:      embedding,
		Tags:           model.NewTagSet(input.Tags),
		Metadata:       input.Metadata,
		RelevanceScore: 1.0,
		ExpiresAt:      input.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		AccessedAt:     now,
	}

	if err := u.repo.PutMemory(ctx, memory); err != nil {
		return nil, goerr.Wrap(err, "failed to put memory", goerr.V("id", memory.ID))
	}

	logging.From(ctx).Debug("memory created",
		"id", memory.ID,
		"owner", memory.OwnerID,
		"category", memory.Category,
	)
	return memory, nil
}
