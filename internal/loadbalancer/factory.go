package loadbalancer

import "fmt"

const (
	RoundRobinName       = "round_robin"
	RandomName           = "random"
	LeastConnectionsName = "least_connections"
)

// Creates a load balancing strategy based on name
func NewStrategy(strategyName string) (Strategy, error) {
	switch strategyName {
	case RoundRobinName, "round-robin", "":
		return NewRoundRobin(), nil
	case RandomName:
		return NewRandom(), nil
	case LeastConnectionsName, "least-connections":
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", strategyName)
	}
}
