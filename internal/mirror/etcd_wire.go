package mirror

import (
	"encoding/json"
	"fmt"
)

type etcdRecord struct {
	Host          string `json:"host"`
	TTL           int    `json:"ttl,omitempty"`
	OwnerHostname string `json:"owner_hostname"`
}

func marshalEtcdValue(rec etcdRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalEtcdValue(raw []byte) (etcdRecord, error) {
	var rec etcdRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return etcdRecord{}, fmt.Errorf("decode etcd value: %w", err)
	}
	return rec, nil
}
