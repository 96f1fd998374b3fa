// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package piecereader

import (
	"io"
	"os"
)

// FileReader is a storage.PieceReader which reads a byte range of a file.
// Reads do not affect the file offset, so concurrent FileReaders may share the
// same file handle.
type FileReader struct {
	length int64
	reader *io.SectionReader
}

// NewFileReader returns a new FileReader over f at the given range.
func NewFileReader(f *os.File, offset, length int64) *FileReader {
	return &FileReader{
		length: length,
		reader: io.NewSectionReader(f, offset, length),
	}
}

// Read reads the range into p.
func (r *FileReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

// Close noops. The underlying file handle is owned by the torrent.
func (r *FileReader) Close() error {
	return nil
}

// Length returns the length of the range.
func (r *FileReader) Length() int {
	return int(r.length)
}
