package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/jrade/jrboost/data"
)

type parsedInput struct {
	X        *data.Matrix
	Y        []uint8
	VarNames []string

	rows [][]float32
}

// parse csv file, detect if first row is header/has var names.
// The first column holds the 0/1 label, the remaining columns the
// feature values.
func parseCSV(r io.Reader) (*parsedInput, error) {
	reader := csv.NewReader(r)

	p := &parsedInput{}

	// grab first row
	row, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading first row")
	}

	// check if it's a header row
	varNames, err := parseHeader(row)
	if err == nil {
		p.VarNames = varNames
	} else {
		// use X1, X2,...Xn for var names
		for i := range row[1:] {
			p.VarNames = append(p.VarNames, fmt.Sprintf("X%d", i+1))
		}

		if err := p.parseRow(row); err != nil {
			return nil, err
		}
	}

	// keep reading rows until EOF
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading row")
		}

		if err := p.parseRow(row); err != nil {
			return nil, err
		}
	}

	p.X, err = data.FromRows(p.rows)
	if err != nil {
		return nil, err
	}
	p.rows = nil

	return p, nil
}

func (p *parsedInput) parseRow(row []string) error {
	if len(row) < 2 {
		return errors.New("row needs a label column and at least one feature column")
	}

	label, err := strconv.ParseUint(row[0], 10, 8)
	if err != nil || label > 1 {
		return errors.Errorf("label %q is not 0 or 1", row[0])
	}
	p.Y = append(p.Y, uint8(label))

	xi := make([]float32, 0, len(row)-1)
	for _, val := range row[1:] {
		fv, err := strconv.ParseFloat(val, 32)
		if err != nil {
			return errors.Wrapf(err, "parsing feature value %q", val)
		}
		xi = append(xi, float32(fv))
	}
	p.rows = append(p.rows, xi)

	return nil
}

func parseHeader(row []string) ([]string, error) {
	colNames := []string{}

	// we only accept numeric input values, so we can consider the first row
	// as a header row if none of the values after the label is a number
	if len(row) > 1 {
		for _, val := range row[1:] {
			_, err := strconv.ParseFloat(val, 64)
			if err == nil {
				return colNames, errors.New("not a header row")
			}

			colNames = append(colNames, val)
		}
	}

	return colNames, nil
}
