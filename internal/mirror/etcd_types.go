package mirror

import (
	clientv3 "go.etcd.io/etcd/client/v3"
)

type heldLease struct {
	lockKey string
	lease   clientv3.LeaseID
}

// storedRecord is an existing key under the mirror prefix.
type storedRecord struct {
	key    string
	base   string
	index  int
	record etcdRecord
	valid  bool
}
