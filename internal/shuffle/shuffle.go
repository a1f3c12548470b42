// Package shuffle は一様ランダムな並べ替えユーティリティを提供する。
//
// 役職の割当と暗殺チェーンの生成はどちらもここを経由する。
// すべての順列が等確率で選ばれることを保証する（Fisher–Yates）。
// sortの比較関数に乱数を返す方式は統計的に偏るため使用しない。
package shuffle

import (
	"fmt"
	"math/rand"
)

// Strings はスライスのコピーを一様ランダムに並べ替えて返す。
// 入力は変更しない。
func Strings(items []string) []string {
	shuffled := make([]string, len(items))
	copy(shuffled, items)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// Cycle はIDの集合から単一の輪（各要素がちょうど1つのターゲットを持ち、
// 全要素をひとつのサイクルで覆う）を一様ランダムに生成する。
// 戻り値はID→ターゲットIDのマッピング。
// 要素が2未満の場合はエラーを返す（輪が成立しない）。
func Cycle(ids []string) (map[string]string, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("cycle requires at least 2 ids, got %d", len(ids))
	}

	order := Strings(ids)
	targets := make(map[string]string, len(order))
	for i, id := range order {
		targets[id] = order[(i+1)%len(order)]
	}
	return targets, nil
}
