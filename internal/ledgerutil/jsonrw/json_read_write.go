/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jsonrw

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/internal/fileutil"
	"github.com/pkg/errors"
)

// ChainDump is the layout of a dump file: the chain header followed by its
// blocks, still encrypted.
type ChainDump struct {
	Chain  *ledger.Chain   `json:"chain"`
	Blocks []*ledger.Block `json:"blocks"`
}

// json Reading

// LoadChainDump reads a file written by a chain dump.
func LoadChainDump(filePath string) (*ChainDump, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var dump *ChainDump
	d := json.NewDecoder(bufio.NewReader(f))
	if err := d.Decode(&dump); err != nil {
		return nil, errors.Wrapf(err, "failed decoding %s", filePath)
	}
	return dump, nil
}

// json Writing

// JSONFileWriter streams a json document to a file without holding the
// whole document in memory.
type JSONFileWriter struct {
	file              *os.File
	buffer            *bufio.Writer
	encoder           *json.Encoder
	objectOpened      bool
	firstFieldWritten bool
	listOpened        bool
	firstEntryWritten bool
	count             int
}

func NewJSONFileWriter(filePath string) (*JSONFileWriter, error) {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	b := bufio.NewWriter(f)

	return &JSONFileWriter{
		file:    f,
		buffer:  b,
		encoder: json.NewEncoder(b),
	}, nil
}

// Open a json object
func (w *JSONFileWriter) OpenObject() error {
	if w.objectOpened {
		return errors.Errorf("object already open, must close object before starting a new one")
	}

	w.objectOpened = true
	_, err := w.buffer.Write([]byte("{\n"))
	return err
}

// Close a json object
func (w *JSONFileWriter) CloseObject() error {
	if !w.objectOpened {
		return errors.Errorf("no object open, cannot close object")
	}

	if _, err := w.buffer.Write([]byte("}\n")); err != nil {
		return err
	}

	w.objectOpened = false
	w.firstFieldWritten = false
	return nil
}

// AddField adds a field to the open object. A slice value opens a list that
// is filled with AddEntry and finished with CloseList.
func (w *JSONFileWriter) AddField(k string, v interface{}) error {
	if !w.objectOpened {
		return errors.Errorf("no object open, cannot add field")
	}
	if w.firstFieldWritten {
		if _, err := w.buffer.Write([]byte(",\n")); err != nil {
			return err
		}
	} else {
		w.firstFieldWritten = true
	}
	if _, err := w.buffer.Write([]byte(fmt.Sprintf("%q:", k))); err != nil {
		return err
	}
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Slice {
		return w.OpenList()
	}
	return w.encoder.Encode(v)
}

// Open a json list
func (w *JSONFileWriter) OpenList() error {
	if w.listOpened {
		return errors.Errorf("list already open, must close list before starting a new one")
	}

	w.listOpened = true
	w.firstEntryWritten = false
	w.count = 0
	_, err := w.buffer.Write([]byte("[\n"))
	return err
}

// Close a json list
func (w *JSONFileWriter) CloseList() error {
	if !w.listOpened {
		return errors.Errorf("no list open, cannot close list")
	}

	w.listOpened = false
	_, err := w.buffer.Write([]byte("]\n"))
	return err
}

// Add entries to an open json list
func (w *JSONFileWriter) AddEntry(r interface{}) error {
	if !w.listOpened {
		return errors.Errorf("no list open, cannot add entries")
	}
	if w.firstEntryWritten {
		if _, err := w.buffer.Write([]byte(",\n")); err != nil {
			return err
		}
	} else {
		w.firstEntryWritten = true
	}

	if err := w.encoder.Encode(r); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of entries added to the current list.
func (w *JSONFileWriter) Count() int {
	return w.count
}

// Close flushes the document and syncs it, together with its directory, to
// disk.
func (w *JSONFileWriter) Close() error {
	if w.listOpened {
		return errors.Errorf("list still open, must close list before closing jsonFileWriter")
	}

	if err := w.buffer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := fileutil.SyncParentDir(w.file.Name()); err != nil {
		return err
	}
	return w.file.Close()
}
