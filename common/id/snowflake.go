package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Each service
// gets a fixed node: the API server is 1, the ingest worker is 2, so IDs
// never collide between the two processes.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered int64 ID. Used for user, session and
// agent-run rows; document and chunk IDs are UUIDs because the search index
// and the open_citation contract expect them.
func New() int64 {
	return node.Generate().Int64()
}
