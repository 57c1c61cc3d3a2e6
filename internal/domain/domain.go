package domain

import (
	"github.com/consilience-ai/consilience-backend/internal/domain/corpus"
	"github.com/consilience-ai/consilience-backend/internal/domain/dialog"
	"github.com/consilience-ai/consilience-backend/internal/domain/graph"
	"github.com/consilience-ai/consilience-backend/internal/domain/memory"
)

type DocumentChunk = corpus.DocumentChunk
type ChunkEmbedding = corpus.ChunkEmbedding

type GraphNode = graph.Node
type GraphEdge = graph.Edge
type CommunitySummary = graph.CommunitySummary

type MemoryEntry = memory.Entry

type UserFeedback = dialog.UserFeedback
type ThreadMessage = dialog.ThreadMessage
