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
package storage

import "fmt"

// PieceChecksumError occurs when an assembled piece does not hash to its
// expected digest. The piece is reset and may be downloaded again.
type PieceChecksumError struct {
	Piece int
}

func (e PieceChecksumError) Error() string {
	return fmt.Sprintf("piece %d failed checksum verification", e.Piece)
}

// IsPieceChecksumError returns true if err is a PieceChecksumError.
func IsPieceChecksumError(err error) bool {
	_, ok := err.(PieceChecksumError)
	return ok
}
