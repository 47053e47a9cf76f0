package main

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/brensch/zerosum/store"
)

const defaultGamesPerFlush = 50

// parquetWriterLoop buffers rows in memory and writes one atomic batch file
// every gamesPerFlush games. It keeps draining in after a failed flush so
// workers never block, and reports the first failure once in is closed.
func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest) error {
	if gamesPerFlush <= 0 {
		gamesPerFlush = defaultGamesPerFlush
	}

	var firstErr error
	pendingRows := make([]store.TrainingRow, 0, 64*gamesPerFlush)
	pendingGames := 0

	flush := func(final bool) {
		outPath, err := store.WriteBatchParquetAtomic(outDir, pendingRows)
		if err != nil {
			log.Error().Err(err).Bool("final", final).Int("games", pendingGames).Int("rows", len(pendingRows)).Msg("parquet flush failed")
			firstErr = errors.Join(firstErr, err)
		} else {
			log.Info().Str("path", outPath).Bool("final", final).Int("games", pendingGames).Int("rows", len(pendingRows)).Msg("parquet flush ok")
		}
		pendingRows = pendingRows[:0]
		pendingGames = 0
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		pendingRows = append(pendingRows, req.rows...)
		pendingGames++

		if pendingGames >= gamesPerFlush {
			flush(false)
		}
	}

	if pendingGames > 0 {
		flush(true)
	}
	return firstErr
}

// streamWriterLoop writes each game straight into an open BatchWriter and
// rotates to a new file every gamesPerFlush games.
func streamWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest) error {
	if gamesPerFlush <= 0 {
		gamesPerFlush = defaultGamesPerFlush
	}

	var firstErr error
	var bw *store.BatchWriter

	finalize := func(final bool) {
		if bw == nil {
			return
		}
		outPath, rows, games, err := bw.Finalize()
		bw = nil
		if err != nil {
			log.Error().Err(err).Bool("final", final).Msg("parquet finalize failed")
			firstErr = errors.Join(firstErr, err)
			return
		}
		if outPath != "" {
			log.Info().Str("path", outPath).Bool("final", final).Int("games", games).Int("rows", rows).Msg("parquet flush ok")
		}
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		if bw == nil {
			var err error
			bw, err = store.NewBatchWriter(outDir)
			if err != nil {
				log.Error().Err(err).Msg("open batch writer")
				firstErr = errors.Join(firstErr, err)
				continue
			}
		}
		if err := bw.WriteGame(req.rows); err != nil {
			log.Error().Err(err).Str("path", bw.OutPath()).Msg("write game")
			firstErr = errors.Join(firstErr, err)
			continue
		}
		if bw.BufferedGames() >= gamesPerFlush {
			finalize(false)
		}
	}

	finalize(true)
	return firstErr
}
