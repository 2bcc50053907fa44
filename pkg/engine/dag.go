package engine

import (
	"sort"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// BuildDAG orders the scope's tensors so every tensor follows its
// dependencies. Ties are broken by id. Every wanted tensor must be
// reachable.
func BuildDAG(scope Scope, wantTensors []TensorID) ([]TensorID, error) {
	allTensors := scope.AllTensors()

	ids := make([]TensorID, 0, len(allTensors))
	for id := range allTensors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	evaluationOrder := make([]TensorID, 0, len(allTensors))
	done := make(map[TensorID]bool)

	for {
		progress := false
		for _, id := range ids {
			if done[id] {
				continue
			}

			ready := true
			for _, dep := range allTensors[id].Dependencies() {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[id] = true
				evaluationOrder = append(evaluationOrder, id)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	for _, id := range wantTensors {
		if _, found := allTensors[id]; !found {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d not found", id)
		}
		if !done[id] {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d could not be computed (unreachable in computation graph)", id)
		}
	}

	return evaluationOrder, nil
}
