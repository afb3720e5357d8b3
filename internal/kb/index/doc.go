// Package index 实现按类别划分的向量索引与索引注册表。
//
// 每个类别索引在任一时刻只有一个活跃代（generation）。重建索引在锁外构建新代，
// 然后在短暂持锁期间原子替换；旧代在所有先前开始的查询结束后才被删除。
package index
