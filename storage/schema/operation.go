package schema

import "fmt"

// Operation history layout:
//
//	op:<ulid>                 -> OperationRecord JSON
//	opidx:u:<userId>:<ulid>   -> empty, per-user index
//	ct:op:total               -> counter of all recorded operations
//
// ULIDs sort lexicographically by creation time, so a prefix scan over op:
// returns records in submission order.

func OperationStorageKey(id string) []byte {
	return []byte(fmt.Sprintf("op:%s", id))
}

func OperationStoragePrefix() []byte {
	return []byte("op:")
}

func OperationUserIndexKey(userID, id string) []byte {
	return []byte(fmt.Sprintf("opidx:u:%s:%s", userID, id))
}

func OperationUserIndexPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("opidx:u:%s:", userID))
}

func OperationCounterKey() []byte {
	return []byte("ct:op:total")
}
