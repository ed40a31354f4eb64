// Package task builds the task document sent to vPoller.
//
// The vpoller item takes its parameters positionally:
//
//	vpoller[method, hostname, name, properties, <key>, <username>, <password>]
//
// method     - vPoller method to run, e.g. vm.get
// hostname   - vSphere host the worker talks to
// name       - vSphere object name, e.g. a VM or ESXi host
// properties - property to collect
// key        - extra data for the method (optional)
// username   - guest login user (optional, comes with password)
// password   - guest login password (optional)
package task

import (
	"errors"

	"vpoller-module/codec"
)

const (
	// Placeholder fills every optional field the caller did not supply.
	Placeholder = "(null)"

	// Helper routes the result through vPoller's Zabbix output helper.
	Helper = "vpoller.helpers.czabbix"
)

var ErrInvalidArity = errors.New("invalid number of key parameters")

// Descriptor is one unit of work for a vPoller worker.
type Descriptor struct {
	Method     string
	Hostname   string
	Name       string
	Properties []string
	Key        string
	Username   string
	Password   string
}

// wire is the document layout on the wire. Field order is fixed.
type wire struct {
	Method     string   `json:"method"`
	Hostname   string   `json:"hostname"`
	Name       string   `json:"name"`
	Properties []string `json:"properties"`
	Key        string   `json:"key"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	Helper     string   `json:"helper"`
}

// FromParams maps 4, 5 or 7 positional parameters onto a Descriptor.
func FromParams(params []string) (Descriptor, error) {
	d := Descriptor{
		Method:     Placeholder,
		Hostname:   Placeholder,
		Name:       Placeholder,
		Properties: []string{Placeholder},
		Key:        Placeholder,
		Username:   Placeholder,
		Password:   Placeholder,
	}

	switch len(params) {
	case 7:
		d.Username = params[5]
		d.Password = params[6]
		fallthrough
	case 5:
		d.Key = params[4]
		fallthrough
	case 4:
		d.Method = params[0]
		d.Hostname = params[1]
		d.Name = params[2]
		d.Properties = []string{params[3]}
	default:
		return Descriptor{}, ErrInvalidArity
	}
	return d, nil
}

// Payload serializes the descriptor. Properties is always a one-element
// list; extra entries are ignored and an empty list sends the placeholder.
// Key is written through the JSON string encoder, so a backslash in it
// goes out as `\\` and cannot end or corrupt the document.
func (d Descriptor) Payload() ([]byte, error) {
	prop := Placeholder
	if len(d.Properties) > 0 {
		prop = d.Properties[0]
	}

	w := wire{
		Method:     d.Method,
		Hostname:   d.Hostname,
		Name:       d.Name,
		Properties: []string{prop},
		Key:        d.Key,
		Username:   d.Username,
		Password:   d.Password,
		Helper:     Helper,
	}
	jsonCodec := &codec.JSONCodec{}
	return jsonCodec.Encode(&w)
}
