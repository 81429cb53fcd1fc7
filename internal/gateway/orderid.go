package gateway

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const orderIDPrefix = "SUB"

// OrderIDGenerator mints provider order ids, unique per node
type OrderIDGenerator struct {
	node *snowflake.Node
}

func NewOrderIDGenerator(nodeID int64) (*OrderIDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &OrderIDGenerator{node: node}, nil
}

// Next returns an alphanumeric id short enough for every provider's order id field
func (g *OrderIDGenerator) Next() string {
	return orderIDPrefix + strings.ToUpper(g.node.Generate().Base36())
}
