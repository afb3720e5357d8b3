// Package biz 提供知识库的业务逻辑层。
//
//   - Retriever: 向量化查询一次，并发检索各类别索引并合并全局 top-k
//   - Composer: 基于检索结果组织上下文，调用生成服务并附带引用来源
//   - StatsAggregator: 汇总各类别活跃代的计数与会话信息
//   - Ingestor: 异步摄取文档与按类别重建索引
//   - Service: 组合以上组件并提供查询缓存
package biz
